// relayd is the realtime relay daemon: the websocket endpoint, the tenant
// broadcast hub, and the REST catch-up API.
// Usage: relayd --config configs/relay.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/praxisworks/praxis-realtime/internal/auth"
	"github.com/praxisworks/praxis-realtime/internal/config"
	"github.com/praxisworks/praxis-realtime/internal/database"
	"github.com/praxisworks/praxis-realtime/internal/server"
	"github.com/praxisworks/praxis-realtime/internal/storage"
	"github.com/praxisworks/praxis-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Database.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Select the backing store
	var store storage.Store
	switch cfg.Database.Driver {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		pg := storage.NewPostgres(pool, logger)
		if err := pg.Bootstrap(ctx); err != nil {
			logger.Error("failed to bootstrap schema", "error", err)
			os.Exit(1)
		}
		store = pg
	default:
		logger.Info("using in-memory store")
		store = storage.NewMemory()
	}
	defer store.Close()

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	if err != nil {
		logger.Error("failed to build token verifier", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, store, verifier, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("relayd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}
