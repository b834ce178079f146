package workers

import (
	"chat-relay/observability"
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatWorker_Publishes_Gauges(t *testing.T) {
	req := require.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var beats atomic.Int32

	worker := NewHeartbeatWorker(log, metrics,
		func() int { beats.Add(1); return 3 },
		func() int { return 2 },
		10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Then the gauges are published on each tick
	req.Eventually(func() bool { return beats.Load() >= 2 }, time.Second, 5*time.Millisecond)
	req.Equal(3.0, testutil.ToFloat64(metrics.ActiveConnections))

	// When the context is canceled the worker returns cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("heartbeat should stop on cancel")
	}
}
