package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	grpcinfra "chat-relay/infrastructure/grpc"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

type store interface {
	contract.Gateway
	io.Closer
}

// run wires every component and blocks until SIGINT or SIGTERM.
// Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	gateway, closeStore, err := openStore(ctx, config, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Core
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	registry := runtime.NewRegistry()
	lanes := runtime.NewLanes(log, config.LaneBufferSize, config.LaneIdleTimeout)

	var sanitizer services.Sanitizer
	if config.EnableModeration {
		filter, err := newFilter(config, log)
		if err != nil {
			return err
		}
		sanitizer = filter
	}

	tracker := services.NewStatusTracker(log, gateway, registry, metrics)
	engine := services.NewDeliveryEngine(log, gateway, registry, tracker, lanes, sanitizer, metrics, config.MaxContentLength)
	replay := services.NewReplayService(log, tracker, registry, metrics)
	presence := services.NewPresencePublisher(log, gateway, registry, metrics)
	chat := services.NewChatService(log, gateway, registry, engine, tracker, replay, presence)

	// 4. Transport
	var tokens *auth.Tokens
	if config.JwtSecret != "" {
		tokens = auth.NewTokens(config.JwtSecret)
	} else {
		log.Warn("JWT_SECRET is empty, connections are not authenticated")
	}
	chatServer := ws.NewChatServer(log, chat, tokens, config.ConnectionBufferSize, config.DeliveryTimeout)

	mux := http.NewServeMux()
	mux.Handle("/ws", chatServer)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	httpWorker := ws.NewHTTPWorker(log, config.Address(), mux, config.ShutdownTimeout)
	httpWorker.OnShutdown(chatServer.CloseAll)

	// 5. Supervision
	supervisor := workers.NewSupervisor(log)
	supervisor.Add(
		lanes,
		httpWorker,
		grpcinfra.NewHealthWorker(log, config.GrpcHealthAddress()),
		workers.NewHeartbeatWorker(log, metrics, registry.Online, lanes.Size, config.MetricInterval),
		workers.NewChannelCapacityWorker(log, []workers.NamedQueue{
			{Name: "connections", Queue: chatServer},
			{Name: "lanes", Queue: lanes},
		}, metrics, config.MetricInterval),
	)

	log.Info("Chat relay starting",
		"address", config.Address(),
		"storage", config.StorageDriver,
		"moderation", config.EnableModeration)
	supervisor.Run(ctx)
	log.Info("Program stopped cleanly")
	return nil
}

func openStore(ctx context.Context, config internal.Config, log *slog.Logger) (store, func(), error) {
	switch config.StorageDriver {
	case internal.DriverPostgres:
		pg, err := storage.NewPostgresStore(config.PostgresDSN, storage.DefaultPostgresConfig(), log)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres opening failed: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres migration failed: %w", err)
		}
		return pg, func() {
			log.Info("Closing Postgres...")
			_ = pg.Close()
		}, nil

	default:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		bs, err := storage.NewBadgerStore(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return bs, func() {
			log.Info("Closing BadgerDB...")
			_ = bs.Close()
			_ = db.Close()
		}, nil
	}
}

func newFilter(config internal.Config, log *slog.Logger) (*moderation.Filter, error) {
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	dictionaries, err := moderation.DefaultDictionaries()
	if err != nil {
		return nil, err
	}
	return moderation.NewFilter(dictionaries, char, log)
}
