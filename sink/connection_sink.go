package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ contract.Handle = (*ConnectionSink)(nil)

// ConnectionSink is the outbound queue of one client connection.
// Producers call Send; the transport write loop drains Events.
// A full queue makes Send wait up to the delivery timeout, never longer.
type ConnectionSink struct {
	id              uuid.UUID
	events          chan event.ServerEvent
	done            chan struct{}
	closeOnce       sync.Once
	deliveryTimeout time.Duration
}

func NewConnectionSink(bufferSize int, deliveryTimeout time.Duration) *ConnectionSink {
	return &ConnectionSink{
		id:              uuid.New(),
		events:          make(chan event.ServerEvent, bufferSize),
		done:            make(chan struct{}),
		deliveryTimeout: deliveryTimeout,
	}
}

func (s *ConnectionSink) ID() uuid.UUID { return s.id }

// Send queues e for the write loop.
// It fails with ErrConnectionClosed once Close was called, and with
// ErrSlowConsumer when the queue stayed full for the whole delivery timeout.
func (s *ConnectionSink) Send(ctx context.Context, e event.ServerEvent) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	default:
	}

	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.ErrSlowConsumer
	}
}

// Events is read by the write loop only.
func (s *ConnectionSink) Events() <-chan event.ServerEvent { return s.events }

// Backlog reports how many events wait for the write loop.
func (s *ConnectionSink) Backlog() (int, int) { return len(s.events), cap(s.events) }

// Done is closed when the connection is gone.
func (s *ConnectionSink) Done() <-chan struct{} { return s.done }

func (s *ConnectionSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
