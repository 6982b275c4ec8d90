package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/duothan-engine/internal/api"
	"github.com/terra-clan/duothan-engine/internal/catalog"
	"github.com/terra-clan/duothan-engine/internal/config"
	"github.com/terra-clan/duothan-engine/internal/engine"
	"github.com/terra-clan/duothan-engine/internal/events"
	"github.com/terra-clan/duothan-engine/internal/notify"
	"github.com/terra-clan/duothan-engine/internal/services"
	"github.com/terra-clan/duothan-engine/internal/storage"
	"github.com/terra-clan/duothan-engine/internal/storage/sqlite"
	"github.com/terra-clan/duothan-engine/internal/sweep"
	"github.com/terra-clan/duothan-engine/internal/unlockcode"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting duothan-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"catalog", cfg.Catalog.Source,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	registry := services.NewRegistry(5 * time.Second)

	repo, err := openRepository(initCtx, cfg)
	if err != nil {
		slog.Error("failed to open team store", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	registry.Register("team_store", services.NewCheckFunc(cfg.Database.Driver, repo.Ping))

	cat, reload, closeCatalog, err := openCatalog(cfg, registry)
	if err != nil {
		slog.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	defer closeCatalog()

	hub := events.NewHub()
	defer hub.Close()

	eng := engine.New(repo, cat, unlockcode.NewGenerator(cfg.Engine.CodePrefix), hub, engine.Config{
		MaxRetries:       cfg.Engine.MaxRetries,
		SweepConcurrency: cfg.Engine.SweepConcurrency,
	})

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog changes are handled by one coalescing background sweeper
	sweeper := sweep.NewSweeper(eng, 10*time.Minute)
	eng.OnCatalogChange(sweeper.Trigger)
	sweeper.Start(ctx)

	scheduler, err := sweep.NewScheduler(eng, sweeper.Trigger, cfg.Reconcile.Interval)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, eng, repo, hub, registry)
	if editor, ok := cat.(api.ChallengeEditor); ok {
		server.SetChallengeEditor(editor)
	}

	var bus *notify.RedisBus
	if cfg.Redis.Enabled {
		bus, err = notify.NewRedisBus(initCtx, notify.RedisConfig{
			Address:     cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Channel:     cfg.Redis.Channel,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			slog.Error("failed to connect catalog change bus", "error", err)
			os.Exit(1)
		}
		defer bus.Close()

		registry.Register("redis", services.NewCheckFunc("redis", bus.HealthCheck))
		server.SetAnnouncer(bus)

		go func() {
			if err := bus.Listen(ctx, sweeper.Trigger); err != nil {
				slog.Error("catalog change listener stopped", "error", err)
			}
		}()
	}

	if err := eng.Initialize(initCtx); err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	if err := scheduler.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Setup HTTP server. WriteTimeout is left unset for the event stream;
	// regular routes are bounded by the router's timeout middleware.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// SIGHUP reloads a file catalog; anything else shuts down
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		if reload == nil {
			slog.Warn("catalog reload requested but the catalog is not file backed")
			continue
		}
		if err := reload(); err != nil {
			slog.Error("catalog reload failed", "error", err)
			continue
		}
		slog.Info("catalog reloaded")
		eng.OnCatalogChanged()
		if bus != nil {
			if err := bus.Publish(ctx); err != nil {
				slog.Warn("failed to announce catalog reload", "error", err)
			}
		}
	}

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	if err := scheduler.Stop(); err != nil {
		slog.Error("scheduler shutdown error", "error", err)
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("duothan-engine stopped")
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
		if err := storage.MigrateFromDSN(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: int32(cfg.Database.MaxOpenConns),
			MaxIdleConns: int32(cfg.Database.MaxIdleConns),
		})
		if err != nil {
			return nil, err
		}
		slog.Info("database connected successfully")
		return repo, nil

	case "sqlite":
		clients, err := storage.ParseStaticClients(cfg.Server.APIKeys)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(cfg.Database.SQLitePath, clients)

	case "memory":
		clients, err := storage.ParseStaticClients(cfg.Server.APIKeys)
		if err != nil {
			return nil, err
		}
		slog.Warn("using in-memory team store, state is lost on restart")
		return storage.NewMemoryRepository(clients), nil
	}

	return nil, fmt.Errorf("unknown database driver: %q", cfg.Database.Driver)
}

// openCatalog returns the catalog, a reload func for file catalogs and a close func
func openCatalog(cfg *config.Config, registry *services.Registry) (catalog.Catalog, func() error, func() error, error) {
	switch cfg.Catalog.Source {
	case "file":
		cat := catalog.NewFileCatalog()
		if err := cat.LoadFromFile(cfg.Catalog.File); err != nil {
			return nil, nil, nil, err
		}
		return cat, cat.Reload, func() error { return nil }, nil

	case "postgres":
		cat, err := catalog.NewPostgresCatalog(cfg.CatalogDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		registry.Register("catalog", services.NewCheckFunc("postgres", cat.HealthCheck))
		return cat, nil, cat.Close, nil
	}

	return nil, nil, nil, fmt.Errorf("unknown catalog source: %q", cfg.Catalog.Source)
}
