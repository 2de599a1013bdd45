package app

import (
	"strings"

	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/utils"
)

type Config struct {
	// ProcessingProfile names a built-in worker allocation; ProfileConfigPath,
	// when set, loads a YAML profile instead.
	ProcessingProfile string
	ProfileConfigPath string

	// GPUConcurrency caps simultaneous GPU-resource tasks per process.
	GPUConcurrency int64

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	FFmpegPath  string
	FFprobePath string

	// GCPProducers swaps the cloud adapters in for transcription, detection
	// and OCR. Requires application credentials in the environment.
	GCPProducers bool

	// TranscriptionLanguages fans transcription out per language.
	TranscriptionLanguages []string
}

func LoadConfig(log *logger.Logger) Config {
	languages := []string{}
	if raw := utils.GetEnv("TRANSCRIPTION_LANGUAGES", "", log); raw != "" {
		for _, lang := range strings.Split(raw, ",") {
			if lang = strings.TrimSpace(lang); lang != "" {
				languages = append(languages, lang)
			}
		}
	}
	return Config{
		ProcessingProfile:      utils.GetEnv("PROCESSING_PROFILE", "balanced", log),
		ProfileConfigPath:      utils.GetEnv("PROFILE_CONFIG_PATH", "", log),
		GPUConcurrency:         int64(utils.GetEnvAsInt("GPU_CONCURRENCY", 1, log)),
		RedisHost:              utils.GetEnv("REDIS_HOST", "", log),
		RedisPort:              utils.GetEnvAsInt("REDIS_PORT", 6379, log),
		RedisDB:                utils.GetEnvAsInt("REDIS_DB", 0, log),
		RedisPassword:          utils.GetEnv("REDIS_PASSWORD", "", log),
		FFmpegPath:             utils.GetEnv("FFMPEG_PATH", "ffmpeg", log),
		FFprobePath:            utils.GetEnv("FFPROBE_PATH", "ffprobe", log),
		GCPProducers:           utils.GetEnvAsBool("GCP_PRODUCERS_ENABLED", false, log),
		TranscriptionLanguages: languages,
	}
}

// RedisEnabled reports whether the external job queue is configured. Without
// it the worker pools poll the task store directly.
func (c Config) RedisEnabled() bool { return c.RedisHost != "" }
