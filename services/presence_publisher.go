package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// PresencePublisher tells every other connected user when someone comes or goes.
// The stored online flag is a projection: failing to write it is only logged.
type PresencePublisher struct {
	log      *slog.Logger
	gateway  contract.Gateway
	registry contract.IRegistry
	metrics  *observability.Metrics
}

func NewPresencePublisher(log *slog.Logger, gateway contract.Gateway, registry contract.IRegistry, metrics *observability.Metrics) *PresencePublisher {
	return &PresencePublisher{log: log, gateway: gateway, registry: registry, metrics: metrics}
}

func (p *PresencePublisher) Online(ctx context.Context, handle contract.Handle, userID domain.UserID) {
	p.publish(ctx, handle, userID, true)
}

func (p *PresencePublisher) Offline(ctx context.Context, handle contract.Handle, userID domain.UserID) {
	p.publish(ctx, handle, userID, false)
}

func (p *PresencePublisher) publish(ctx context.Context, handle contract.Handle, userID domain.UserID, online bool) {
	if err := p.gateway.SetPresence(ctx, userID, online, time.Now().UTC()); err != nil {
		p.log.Warn("Presence projection not saved", "user_id", userID, "online", online, "error", err)
	}

	change := event.UserStatusChange{UserID: userID, IsOnline: online}
	for _, h := range p.registry.Others(handle) {
		err := h.Send(ctx, change)
		p.metrics.Pushed(err)
		if err != nil {
			p.log.Debug("Presence push failed", "handle", h.ID(), "error", err)
		}
	}
}
