package ws

import (
	"chat-relay/contract"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

var _ contract.Worker = (*HTTPWorker)(nil)

// HTTPWorker serves an http.Handler until its context ends.
type HTTPWorker struct {
	log             *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
	ready           chan net.Addr
}

func NewHTTPWorker(log *slog.Logger, addr string, handler http.Handler, shutdownTimeout time.Duration) *HTTPWorker {
	return &HTTPWorker{
		log: log,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan net.Addr, 1),
	}
}

// OnShutdown registers fn to run when the server starts shutting down.
func (w *HTTPWorker) OnShutdown(fn func()) {
	w.server.RegisterOnShutdown(fn)
}

// Ready yields the bound address once the listener is open.
func (w *HTTPWorker) Ready() <-chan net.Addr { return w.ready }

func (w *HTTPWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return err
	}
	select {
	case w.ready <- listener.Addr():
	default:
	}
	w.log.Info("HTTP server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- w.server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("HTTP shutdown incomplete", "error", err)
		}
		<-errCh
		w.log.Info("HTTP server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
