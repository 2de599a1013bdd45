package app

import (
	"context"
	"fmt"
	"os"

	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
)

// App owns the pipeline process: database, repos, orchestrator, worker pools
// and the queue reconciler.
type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Clients  Clients
	Repos    Repos
	Services Services

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	dbs, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbs.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}

	clients, err := wireClients(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(dbs, log)
	serviceset, err := wireServices(cfg, dbs, reposet, clients, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &App{
		Log:      log,
		Cfg:      cfg,
		DB:       dbs,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the worker pools and, when the queue is configured, the
// reconciler. Idempotent; a second call is a no-op.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.Pool.Start(ctx)
	if a.Services.Reconciler != nil {
		go a.Services.Reconciler.Run(ctx)
	}
	a.Log.Info("pipeline started", "profile", a.Services.Profile.Name)
}

// Close stops the pools, waits for in-flight tasks to reset, and releases the
// clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Pool != nil {
		a.Services.Pool.Stop()
	}
	if a.Clients.Redis != nil {
		if err := a.Clients.Redis.Close(); err != nil {
			a.Log.Warn("redis close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
