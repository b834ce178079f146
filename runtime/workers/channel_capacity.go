package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// Backlogged is any bounded queue that can report its fill.
type Backlogged interface {
	Backlog() (length, capacity int)
}

type NamedQueue struct {
	Name  string
	Queue Backlogged
}

// ChannelCapacityWorker periodically samples bounded queues (connection sinks,
// conversation lanes). Reading len and cap of a channel never blocks, so
// sampling does not interfere with producers or consumers.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	queues         []NamedQueue
	metrics        *observability.Metrics
	metricInterval time.Duration
	// fill ratio above which a warning is logged
	warnThreshold float64
}

func NewChannelCapacityWorker(log *slog.Logger, queues []NamedQueue,
	metrics *observability.Metrics, metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		queues:         queues,
		metrics:        metrics,
		metricInterval: metricInterval,
		warnThreshold:  0.8,
	}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			for _, nq := range w.queues {
				length, capacity := nq.Queue.Backlog()
				w.metrics.SetQueueFill(nq.Name, length, capacity)
				if capacity > 0 && float64(length)/float64(capacity) >= w.warnThreshold {
					w.log.Warn("Queue almost full", "queue", nq.Name, "length", length, "capacity", capacity)
				}
			}
		}
	}
}
