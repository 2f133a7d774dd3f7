package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/your-org/sura/internal/api"
	"github.com/your-org/sura/internal/api/ws"
	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/notify"
	"github.com/your-org/sura/internal/observability"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting Sura API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	objects, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	emitter, err := notify.NewNATSEmitter(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer emitter.Close()

	if err := emitter.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Fan case events out to connected clients
	consumer, err := notify.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.Consume(ctx, "api-events", func(_ context.Context, ev notify.Event) {
		hub.BroadcastEvent(ev)
	})
	if err != nil {
		slog.Error("start event consumer", "error", err)
		os.Exit(1)
	}

	pol := policy.NewPolicy()
	reviewer := match.NewReviewer(db, pol, emitter)

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		MaxRetries: cfg.Queue.MaxRetries,
		Matching:   cfg.Matching,
		DB:         db,
		Objects:    objects,
		Emitter:    emitter,
		Policy:     pol,
		Reviewer:   reviewer,
		Hub:        hub,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("API listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
