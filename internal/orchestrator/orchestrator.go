package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

// Enqueuer mirrors newly-created tasks into the external job queue. The
// durable task row stays the source of truth; a nil Enqueuer means the worker
// pools poll the store directly. Ack drops the queue's dedupe marker once a
// task reaches a terminal status, so a later retry can enqueue again.
type Enqueuer interface {
	EnqueueTask(ctx context.Context, task *types.Task) error
	Ack(ctx context.Context, taskID uuid.UUID) error
}

// Options tune task fan-out per video.
type Options struct {
	// TranscriptionLanguages creates one transcription task per language.
	// Empty means a single language-agnostic pass.
	TranscriptionLanguages []string
	// DisabledTypes are skipped entirely (profile-driven).
	DisabledTypes map[string]bool
}

// Orchestrator converts video state into the dependency-ordered set of tasks
// that should exist, creates the missing ones, and reacts to completions by
// unblocking dependents.
type Orchestrator struct {
	db       *gorm.DB
	log      *logger.Logger
	videos   repos.VideoRepo
	tasks    repos.TaskRepo
	enqueuer Enqueuer
	opts     Options
}

func New(db *gorm.DB, baseLog *logger.Logger, videos repos.VideoRepo, tasks repos.TaskRepo, enqueuer Enqueuer, opts Options) *Orchestrator {
	return &Orchestrator{
		db:       db,
		log:      baseLog.With("component", "Orchestrator"),
		videos:   videos,
		tasks:    tasks,
		enqueuer: enqueuer,
		opts:     opts,
	}
}

// EnsureTasksForVideo creates every task that is ready per the readiness rule
// and does not already exist. Safe to call repeatedly; creation is gated on
// the (video_id, task_type, language) uniqueness rule.
func (o *Orchestrator) EnsureTasksForVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = o.db
	}
	video, err := o.videos.GetByID(ctx, transaction, videoID)
	if err != nil {
		return nil, err
	}
	completed, err := o.tasks.CompletedTypes(ctx, transaction, videoID)
	if err != nil {
		return nil, err
	}

	var created []*types.Task
	for _, taskType := range types.AllTaskTypes() {
		if o.opts.DisabledTypes[taskType] {
			continue
		}
		if !statusReady(taskType, video) || !dependenciesMet(taskType, completed) {
			continue
		}
		for _, language := range o.languagesFor(taskType) {
			task, err := o.createTask(ctx, transaction, video, taskType, language)
			if err != nil {
				return nil, err
			}
			if task != nil {
				created = append(created, task)
			}
		}
	}

	// First ML fan-out moves the video from hashed into processing.
	if len(created) > 0 && video.Status == types.VideoStatusHashed {
		if err := o.videos.UpdateFields(ctx, transaction, video.ID, map[string]interface{}{
			"status": types.VideoStatusProcessing,
		}); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (o *Orchestrator) languagesFor(taskType string) []string {
	if taskType == types.TaskTypeTranscription && len(o.opts.TranscriptionLanguages) > 0 {
		return o.opts.TranscriptionLanguages
	}
	return []string{""}
}

func (o *Orchestrator) createTask(ctx context.Context, tx *gorm.DB, video *types.Video, taskType, language string) (*types.Task, error) {
	exists, err := o.tasks.ExistsActive(ctx, tx, video.ID, taskType, language)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	deps, _ := json.Marshal(Dependencies(taskType))
	task := &types.Task{
		VideoID:      video.ID,
		Type:         taskType,
		Status:       types.TaskStatusPending,
		Priority:     PriorityFor(taskType),
		Language:     language,
		Dependencies: deps,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	task, err = o.tasks.Create(ctx, tx, task)
	if err != nil {
		if apperr.Is(err, apperr.ClassConflict) {
			// Raced with another scheduler pass; the task exists, nothing to do.
			return nil, nil
		}
		return nil, err
	}
	o.log.Info("task created", "video_id", video.ID, "task_type", taskType, "priority", task.Priority, "language", language)
	if o.enqueuer != nil {
		if err := o.enqueuer.EnqueueTask(ctx, task); err != nil {
			// Queue loss is recoverable: the reconciler re-enqueues from the
			// durable row.
			o.log.Warn("enqueue failed, reconciler will retry", "task_id", task.ID, "error", err)
		}
	}
	return task, nil
}

// HandleTaskCompleted runs the completion protocol: mark completed, promote
// the video on hash completion, unblock dependents, and close out the video
// when every expected task has completed.
func (o *Orchestrator) HandleTaskCompleted(ctx context.Context, taskID uuid.UUID, result map[string]interface{}) error {
	task, err := o.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	if err := o.tasks.MarkCompleted(ctx, nil, taskID, result); err != nil {
		return err
	}
	o.ackQueued(ctx, taskID)

	if task.Type == types.TaskTypeHash {
		fileHash, _ := result["file_hash"].(string)
		if fileHash == "" {
			return apperr.Fatalf("hash_missing", "hash task %s completed without a file_hash", taskID)
		}
		if err := o.videos.UpdateFields(ctx, nil, task.VideoID, map[string]interface{}{
			"status":    types.VideoStatusHashed,
			"file_hash": fileHash,
		}); err != nil {
			return err
		}
	}

	if _, err := o.EnsureTasksForVideo(ctx, nil, task.VideoID); err != nil {
		return err
	}
	return o.maybeCompleteVideo(ctx, task.VideoID)
}

// HandleTaskFailed records the failure. hash failure is fatal for the video;
// every other type is task-local and siblings proceed.
func (o *Orchestrator) HandleTaskFailed(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	task, err := o.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	if err := o.tasks.MarkFailed(ctx, nil, taskID, errMsg); err != nil {
		return err
	}
	o.ackQueued(ctx, taskID)
	if task.Type == types.TaskTypeHash {
		o.log.Error("hash task failed, failing video", "video_id", task.VideoID, "error", errMsg)
		return o.videos.UpdateFields(ctx, nil, task.VideoID, map[string]interface{}{
			"status": types.VideoStatusFailed,
		})
	}
	return nil
}

// RetryTask re-arms a failed or cancelled task and re-enqueues it.
func (o *Orchestrator) RetryTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskStatusFailed && task.Status != types.TaskStatusCancelled {
		return apperr.Conflictf("task_not_retryable", "task %s is %s, only failed or cancelled tasks can be retried", taskID, task.Status)
	}
	if err := o.tasks.ResetToPending(ctx, nil, taskID); err != nil {
		return err
	}
	if o.enqueuer != nil {
		task.Status = types.TaskStatusPending
		if err := o.enqueuer.EnqueueTask(ctx, task); err != nil {
			o.log.Warn("re-enqueue failed, reconciler will retry", "task_id", task.ID, "error", err)
		}
	}
	o.log.Info("task reset for retry", "task_id", taskID, "task_type", task.Type)
	return nil
}

// ackQueued clears the task's queue marker after a terminal transition.
// Best effort: an expired or missing marker is not an error.
func (o *Orchestrator) ackQueued(ctx context.Context, taskID uuid.UUID) {
	if o.enqueuer == nil {
		return
	}
	if err := o.enqueuer.Ack(ctx, taskID); err != nil {
		o.log.Warn("queue ack failed", "task_id", taskID, "error", err)
	}
}

// maybeCompleteVideo closes the video when every expected task is completed
// and none failed. Task-local failures keep the video in processing until
// they are retried.
func (o *Orchestrator) maybeCompleteVideo(ctx context.Context, videoID uuid.UUID) error {
	video, err := o.videos.GetByID(ctx, nil, videoID)
	if err != nil {
		return err
	}
	if video.Status != types.VideoStatusProcessing {
		return nil
	}
	counts, err := o.tasks.StatusCountsForVideo(ctx, nil, videoID)
	if err != nil {
		return err
	}
	if counts[types.TaskStatusFailed] > 0 || counts[types.TaskStatusCancelled] > 0 {
		return nil
	}
	if counts[types.TaskStatusPending] > 0 || counts[types.TaskStatusRunning] > 0 {
		return nil
	}
	expected := o.expectedTaskCount()
	if counts[types.TaskStatusCompleted] < int64(expected) {
		return nil
	}
	now := time.Now()
	o.log.Info("video fully processed", "video_id", videoID)
	return o.videos.UpdateFields(ctx, nil, videoID, map[string]interface{}{
		"status":       types.VideoStatusCompleted,
		"processed_at": now,
	})
}

func (o *Orchestrator) expectedTaskCount() int {
	n := 0
	for _, taskType := range types.AllTaskTypes() {
		if o.opts.DisabledTypes[taskType] {
			continue
		}
		n += len(o.languagesFor(taskType))
	}
	return n
}

// Report returns library-wide per-status video counts.
func (o *Orchestrator) Report(ctx context.Context) (map[string]int64, error) {
	return o.videos.StatusCounts(ctx, nil)
}
