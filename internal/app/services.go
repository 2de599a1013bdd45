package app

import (
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/videolens/videolens-backend/internal/artifacts"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/navigation"
	"github.com/videolens/videolens-backend/internal/orchestrator"
	"github.com/videolens/videolens-backend/internal/queue"
	"github.com/videolens/videolens-backend/internal/services"
	"github.com/videolens/videolens-backend/internal/workers"
)

type Services struct {
	Store        *artifacts.Store
	Orchestrator *orchestrator.Orchestrator
	Video        services.VideoService
	Navigation   *navigation.Engine
	Executor     *workers.Executor
	Pool         *workers.Pool
	Queue        *queue.RedisQueue
	Reconciler   *queue.Reconciler
	Profile      *workers.Profile
}

func wireServices(cfg Config, dbs *db.Service, reposet Repos, clients Clients, log *logger.Logger) (Services, error) {
	profile, err := loadProfile(cfg)
	if err != nil {
		return Services{}, err
	}
	log.Info("processing profile loaded", "profile", profile.Name)

	var jobQueue *queue.RedisQueue
	var enqueuer orchestrator.Enqueuer
	if clients.Redis != nil {
		jobQueue = queue.NewRedisQueue(clients.Redis, func(taskType string) string {
			return profile.SettingsFor(taskType).Resource
		}, log)
		enqueuer = jobQueue
	}

	orch := orchestrator.New(dbs.DB(), log, reposet.Videos, reposet.Tasks, enqueuer, orchestrator.Options{
		TranscriptionLanguages: cfg.TranscriptionLanguages,
		DisabledTypes:          profile.DisabledTypes(),
	})

	store := artifacts.NewStore(dbs, schema.Default(), artifacts.NewProjectionRegistry(dbs.FTS(), nil, log), log)

	gpuSem := semaphore.NewWeighted(cfg.GPUConcurrency)
	executor := workers.NewExecutor(store, reposet.Videos, reposet.Runs, clients.Registry, gpuSem, log)
	pool := workers.NewPool(dbs, orch, executor, reposet.Tasks, profile, log)

	var reconciler *queue.Reconciler
	if jobQueue != nil {
		reconciler = queue.NewReconciler(reposet.Tasks, jobQueue, log)
	}

	return Services{
		Store:        store,
		Orchestrator: orch,
		Video:        services.NewVideoService(dbs.DB(), reposet.Videos, reposet.Tasks, orch, log),
		Navigation:   navigation.NewEngine(dbs, log),
		Executor:     executor,
		Pool:         pool,
		Queue:        jobQueue,
		Reconciler:   reconciler,
		Profile:      profile,
	}, nil
}

func loadProfile(cfg Config) (*workers.Profile, error) {
	if cfg.ProfileConfigPath != "" {
		p, err := workers.LoadProfileFile(cfg.ProfileConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load profile config: %w", err)
		}
		return p, nil
	}
	p, err := workers.BuiltinProfile(cfg.ProcessingProfile)
	if err != nil {
		return nil, fmt.Errorf("resolve processing profile: %w", err)
	}
	return p, nil
}
