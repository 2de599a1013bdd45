package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/producers"
	"github.com/videolens/videolens-backend/internal/provenance"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

// transientAttempts bounds in-worker retries of transient failures before
// they are converted to fatal and fail the task.
const transientAttempts = 3

// Executor runs one claimed task to completion: hash tasks compute the file
// hash, producer tasks verify input provenance, invoke the bound producer and
// persist its envelopes under a fresh run.
type Executor struct {
	store    *artifacts.Store
	videos   repos.VideoRepo
	runs     repos.RunRepo
	registry producers.Registry
	// gpuSem serializes GPU-bound work across every pool in the process. Nil
	// means no GPU gating.
	gpuSem *semaphore.Weighted
	log    *logger.Logger
}

func NewExecutor(store *artifacts.Store, videos repos.VideoRepo, runs repos.RunRepo, registry producers.Registry, gpuSem *semaphore.Weighted, baseLog *logger.Logger) *Executor {
	return &Executor{
		store:    store,
		videos:   videos,
		runs:     runs,
		registry: registry,
		gpuSem:   gpuSem,
		log:      baseLog.With("component", "Executor"),
	}
}

// Execute returns the result map to record on the task. Errors classify via
// apperr: validation and fatal errors should fail the task, transient ones are
// retryable.
func (e *Executor) Execute(ctx context.Context, session *gorm.DB, task *types.Task, settings TaskSettings) (map[string]interface{}, error) {
	video, err := e.videos.GetByID(ctx, session, task.VideoID)
	if err != nil {
		return nil, err
	}

	if task.Type == types.TaskTypeHash {
		return e.executeHash(video)
	}

	producer := e.registry[task.Type]
	if producer == nil {
		// Derived task types (topics, embeddings, thumbnails) have no artifact
		// producer; completion is what unblocks their dependents.
		return nil, nil
	}

	// The stored hash is the provenance baseline. A file that changed on disk
	// since hashing must not produce artifacts attributed to the old content.
	if video.FileHash != nil && *video.FileHash != "" {
		var current string
		err := apperr.Retry(ctx, transientAttempts, func() error {
			h, hashErr := provenance.InputHash(video.FilePath)
			if hashErr != nil {
				return apperr.Transientf("input_unreadable", "hash %s: %v", video.FilePath, hashErr)
			}
			current = h
			return nil
		})
		if err != nil {
			return nil, err
		}
		if current != *video.FileHash {
			return nil, apperr.Validationf("input_changed", "file %s changed since hashing (have %s, recorded %s)", video.FilePath, current, *video.FileHash)
		}
	}

	if settings.Resource == ResourceGPU && e.gpuSem != nil {
		if err := e.gpuSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.gpuSem.Release(1)
	}

	run, err := e.runs.Create(ctx, session, &types.Run{
		AssetID:         video.ID,
		PipelineProfile: settings.ModelProfile,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		return nil, err
	}

	cfg := producers.Config{
		FrameInterval:       settings.FrameInterval,
		ConfidenceThreshold: settings.ConfidenceThreshold,
		ModelName:           settings.ModelName,
		ModelProfile:        settings.ModelProfile,
		Language:            task.Language,
		GPU:                 settings.Resource == ResourceGPU,
	}
	// Transient producer failures (ffprobe hiccup, API reset) get a bounded
	// backoff before the task is failed for good.
	var result *producers.Result
	err = apperr.Retry(ctx, transientAttempts, func() error {
		r, perr := producer.Process(ctx, video.FilePath, cfg)
		if perr != nil {
			return perr
		}
		result = r
		return nil
	})
	if err != nil {
		_ = e.runs.Finish(ctx, session, run.ID, types.RunStatusFailed, err.Error())
		return nil, err
	}

	envs, err := envelopesFromResult(task.Type, video.ID, run.ID, result)
	if err != nil {
		_ = e.runs.Finish(ctx, session, run.ID, types.RunStatusFailed, err.Error())
		return nil, err
	}
	if err := e.store.BatchCreate(ctx, session, envs); err != nil {
		_ = e.runs.Finish(ctx, session, run.ID, types.RunStatusFailed, err.Error())
		return nil, err
	}

	if result.Metadata != nil {
		if err := e.applyMetadata(ctx, session, video, result.Metadata); err != nil {
			e.log.Warn("video metadata update failed", "video_id", video.ID, "error", err)
		}
	}

	if err := e.runs.Finish(ctx, session, run.ID, types.RunStatusCompleted, ""); err != nil {
		return nil, err
	}
	e.log.Info("task executed",
		"task_id", task.ID, "task_type", task.Type, "video_id", video.ID,
		"run_id", run.ID, "artifact_count", len(envs))
	return map[string]interface{}{
		"run_id":         run.ID.String(),
		"artifact_count": len(envs),
	}, nil
}

func (e *Executor) executeHash(video *types.Video) (map[string]interface{}, error) {
	hash, err := provenance.InputHash(video.FilePath)
	if err != nil {
		return nil, apperr.Fatalf("hash_failed", "hash %s: %v", video.FilePath, err)
	}
	return map[string]interface{}{"file_hash": hash}, nil
}

// applyMetadata mirrors the authoritative container fields onto the video row.
// file_created_at drives global-timeline ordering, so it is only ever set,
// never cleared.
func (e *Executor) applyMetadata(ctx context.Context, session *gorm.DB, video *types.Video, meta *schema.VideoMetadataPayload) error {
	updates := map[string]interface{}{}
	if meta.DurationSeconds != nil {
		updates["duration_seconds"] = *meta.DurationSeconds
	}
	if meta.CreateDate != nil {
		updates["file_created_at"] = *meta.CreateDate
	}
	if len(updates) == 0 {
		return nil
	}
	return e.videos.UpdateFields(ctx, session, video.ID, updates)
}

// envelopesFromResult maps producer output onto envelopes; the task type
// decides which artifact type detections become.
func envelopesFromResult(taskType string, assetID, runID uuid.UUID, result *producers.Result) ([]*types.ArtifactEnvelope, error) {
	base := func(artifactType string, startMS, endMS int64, payload schema.Payload) (*types.ArtifactEnvelope, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return &types.ArtifactEnvelope{
			AssetID:         assetID,
			ArtifactType:    artifactType,
			SchemaVersion:   1,
			SpanStartMS:     startMS,
			SpanEndMS:       endMS,
			Payload:         raw,
			Producer:        result.Producer,
			ProducerVersion: result.ProducerVersion,
			ModelProfile:    result.ModelProfile,
			ConfigHash:      result.ConfigHash,
			InputHash:       result.InputHash,
			RunID:           runID,
		}, nil
	}

	var envs []*types.ArtifactEnvelope
	appendEnv := func(env *types.ArtifactEnvelope, err error) error {
		if err != nil {
			return err
		}
		envs = append(envs, env)
		return nil
	}

	for _, seg := range result.Segments {
		err := appendEnv(base(types.ArtifactTypeTranscriptSegment, seg.StartMS, seg.EndMS, &schema.TranscriptSegmentPayload{
			Text:       seg.Text,
			Language:   seg.Language,
			Confidence: seg.Confidence,
			Words:      seg.Words,
		}))
		if err != nil {
			return nil, err
		}
	}
	for _, sc := range result.Scenes {
		err := appendEnv(base(types.ArtifactTypeScene, sc.StartMS, sc.EndMS, &schema.ScenePayload{
			SceneIndex: sc.SceneIndex,
		}))
		if err != nil {
			return nil, err
		}
	}
	for _, det := range result.Detections {
		endMS := det.EndMS
		if endMS < det.TimestampMS {
			endMS = det.TimestampMS
		}
		var payload schema.Payload
		var artifactType string
		switch taskType {
		case types.TaskTypeFaceDetection:
			artifactType = types.ArtifactTypeFaceDetection
			payload = &schema.FaceDetectionPayload{
				ClusterID:  det.ClusterID,
				Confidence: det.Confidence,
				FrameIndex: det.FrameIndex,
				BBox:       det.BBox,
			}
		case types.TaskTypeOCR:
			artifactType = types.ArtifactTypeOCRText
			conf := det.Confidence
			payload = &schema.OCRTextPayload{
				Text:       det.Label,
				Confidence: &conf,
				FrameIndex: det.FrameIndex,
			}
		default:
			artifactType = types.ArtifactTypeObjectDetection
			payload = &schema.ObjectDetectionPayload{
				Label:      det.Label,
				Confidence: det.Confidence,
				FrameIndex: det.FrameIndex,
				BBox:       det.BBox,
			}
		}
		if err := appendEnv(base(artifactType, det.TimestampMS, endMS, payload)); err != nil {
			return nil, err
		}
	}
	for _, cl := range result.Classifications {
		endMS := cl.EndMS
		if endMS < cl.TimestampMS {
			endMS = cl.TimestampMS
		}
		for _, pred := range cl.Predictions {
			err := appendEnv(base(types.ArtifactTypePlaceClassification, cl.TimestampMS, endMS, &schema.PlaceClassificationPayload{
				Label:      pred.Label,
				Confidence: pred.Confidence,
				FrameIndex: cl.FrameIndex,
			}))
			if err != nil {
				return nil, err
			}
		}
	}
	if result.Metadata != nil {
		var endMS int64
		if result.Metadata.DurationSeconds != nil {
			endMS = int64(*result.Metadata.DurationSeconds * 1000)
		}
		if err := appendEnv(base(types.ArtifactTypeVideoMetadata, 0, endMS, result.Metadata)); err != nil {
			return nil, err
		}
	}
	return envs, nil
}
