package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/producers"
)

type Clients struct {
	// Redis backs the external job queue. Nil when not configured.
	Redis *redis.Client
	// Registry binds task types to their producer implementations.
	Registry producers.Registry
}

func wireClients(cfg Config, log *logger.Logger) (Clients, error) {
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		log.Info("Redis queue configured", "addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort), "db", cfg.RedisDB)
	}

	registry := producers.NewLocalRegistry(cfg.FFprobePath)
	if cfg.GCPProducers {
		if err := producers.EnableGCP(registry, log, cfg.FFmpegPath); err != nil {
			return Clients{}, fmt.Errorf("enable gcp producers: %w", err)
		}
		log.Info("GCP producers enabled")
	}

	return Clients{Redis: rdb, Registry: registry}, nil
}
