package grpc

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "chat-relay"

var _ contract.Worker = (*HealthWorker)(nil)

// HealthWorker exposes the standard gRPC health service so that orchestrators
// can probe the relay. It reports SERVING while running and NOT_SERVING as
// soon as shutdown starts.
type HealthWorker struct {
	log     *slog.Logger
	address string
	health  *health.Server
	ready   chan net.Addr
}

func NewHealthWorker(log *slog.Logger, address string) *HealthWorker {
	return &HealthWorker{
		log:     log,
		address: address,
		health:  health.NewServer(),
		ready:   make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the listener is open.
func (w *HealthWorker) Ready() <-chan net.Addr { return w.ready }

func (w *HealthWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return err
	}

	server := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(server, w.health)
	w.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	w.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- err
		}
		close(errChan)
	}()
	select {
	case w.ready <- listener.Addr():
	default:
	}

	select {
	case <-ctx.Done():
		w.health.Shutdown()
		server.GracefulStop()
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}
