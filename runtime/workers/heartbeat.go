package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HeartbeatWorker publishes process and relay gauges on a fixed interval.
type HeartbeatWorker struct {
	log            *slog.Logger
	metrics        *observability.Metrics
	connections    func() int
	lanes          func() int
	metricInterval time.Duration
}

func NewHeartbeatWorker(
	log *slog.Logger,
	metrics *observability.Metrics,
	connections func() int,
	lanes func() int,
	metricInterval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:            log,
		metrics:        metrics,
		connections:    connections,
		lanes:          lanes,
		metricInterval: metricInterval,
	}
}

// Run samples the relay process and its live sizes every metricInterval.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker")
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping heartbeat")
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	online := w.connections()
	lanes := w.lanes()
	w.metrics.SetConnections(online)

	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "err", err)
		return
	}
	w.metrics.SetProcess(rss, cpu, lanes)
	w.log.Debug("Heartbeat", "online", online, "lanes", lanes, "rss", rss, "cpu", cpu)
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
