package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

type TaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, task *types.Task) (*types.Task, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Task, error)
	GetByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) ([]*types.Task, error)
	ExistsActive(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, taskType, language string) (bool, error)
	CompletedTypes(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (map[string]bool, error)
	ClaimNextPending(ctx context.Context, session *gorm.DB, taskType string) (*types.Task, error)
	ClaimByID(ctx context.Context, session *gorm.DB, id uuid.UUID) (*types.Task, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, result map[string]interface{}) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ResetToPending(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Task, error)
	ListRunningLongerThan(ctx context.Context, tx *gorm.DB, threshold time.Duration) ([]*types.Task, error)
	StatusCountsForVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (map[string]int64, error)
	StatusCounts(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type taskRepo struct {
	db *gorm.DB
	// useSkipLocked selects row-lock claiming; stores without FOR UPDATE SKIP
	// LOCKED fall back to an optimistic compare-and-swap on status.
	useSkipLocked bool
	log           *logger.Logger
}

func NewTaskRepo(db *gorm.DB, useSkipLocked bool, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{
		db:            db,
		useSkipLocked: useSkipLocked,
		log:           baseLog.With("repo", "TaskRepo"),
	}
}

func (r *taskRepo) Create(ctx context.Context, tx *gorm.DB, task *types.Task) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if task == nil {
		return nil, nil
	}
	var created *types.Task
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		// (video_id, task_type, language) is unique among non-failed tasks.
		var n int64
		if err := txx.Model(&types.Task{}).
			Where("video_id = ? AND task_type = ? AND language = ? AND status <> ?",
				task.VideoID, task.Type, task.Language, types.TaskStatusFailed).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflictf("task_exists", "non-failed %s task already exists for video %s", task.Type, task.VideoID)
		}
		if err := txx.Create(task).Error; err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *taskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var task types.Task
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("task_not_found", "task %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) GetByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Task
	err := transaction.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) ExistsActive(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, taskType, language string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.Task{}).
		Where("video_id = ? AND task_type = ? AND language = ? AND status <> ?",
			videoID, taskType, language, types.TaskStatusFailed).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *taskRepo) CompletedTypes(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (map[string]bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var taskTypes []string
	err := transaction.WithContext(ctx).Model(&types.Task{}).
		Where("video_id = ? AND status = ?", videoID, types.TaskStatusCompleted).
		Distinct().
		Pluck("task_type", &taskTypes).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(taskTypes))
	for _, t := range taskTypes {
		out[t] = true
	}
	return out, nil
}

// ClaimNextPending atomically flips the highest-priority oldest pending task of
// the given type to running. Exactly one caller observes any given transition;
// concurrent claimers either skip the locked row or lose the CAS and retry.
// Returns nil when no task is claimable.
func (r *taskRepo) ClaimNextPending(ctx context.Context, session *gorm.DB, taskType string) (*types.Task, error) {
	transaction := session
	if transaction == nil {
		transaction = r.db
	}
	if r.useSkipLocked {
		return r.claimSkipLocked(ctx, transaction, taskType)
	}
	return r.claimCompareAndSwap(ctx, transaction, taskType)
}

func (r *taskRepo) claimSkipLocked(ctx context.Context, tx *gorm.DB, taskType string) (*types.Task, error) {
	now := time.Now()
	var claimed *types.Task
	err := tx.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.Task
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("task_type = ? AND status = ?", taskType, types.TaskStatusPending).
			Order("priority ASC, created_at ASC").
			First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.Task{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":     types.TaskStatusRunning,
				"started_at": now,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		task.Status = types.TaskStatusRunning
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// claimCompareAndSwap selects a candidate and then flips it with a guarded
// UPDATE. A lost race shows up as zero rows affected; the next candidate is
// tried until none remain.
func (r *taskRepo) claimCompareAndSwap(ctx context.Context, tx *gorm.DB, taskType string) (*types.Task, error) {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var task types.Task
		qErr := tx.WithContext(ctx).
			Where("task_type = ? AND status = ?", taskType, types.TaskStatusPending).
			Order("priority ASC, created_at ASC").
			Offset(attempt).
			First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if qErr != nil {
			return nil, qErr
		}
		now := time.Now()
		res := tx.WithContext(ctx).Model(&types.Task{}).
			Where("id = ? AND status = ?", task.ID, types.TaskStatusPending).
			Updates(map[string]interface{}{
				"status":     types.TaskStatusRunning,
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			task.Status = types.TaskStatusRunning
			task.StartedAt = &now
			return &task, nil
		}
		// Another worker won this row; try the next candidate.
	}
	return nil, nil
}

// ClaimByID flips one specific pending task to running. Used by queue-driven
// workers that already know which task their job names. Returns nil when the
// task is gone or no longer pending.
func (r *taskRepo) ClaimByID(ctx context.Context, session *gorm.DB, id uuid.UUID) (*types.Task, error) {
	transaction := session
	if transaction == nil {
		transaction = r.db
	}
	var task types.Task
	qErr := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(qErr, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if qErr != nil {
		return nil, qErr
	}
	if task.Status != types.TaskStatusPending {
		return nil, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).Model(&types.Task{}).
		Where("id = ? AND status = ?", id, types.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     types.TaskStatusRunning,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	task.Status = types.TaskStatusRunning
	task.StartedAt = &now
	return &task, nil
}

func (r *taskRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, result map[string]interface{}) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.TaskStatusCompleted,
		"completed_at": now,
		"error":        "",
	}
	if result != nil {
		raw, err := jsonMarshal(result)
		if err != nil {
			return err
		}
		updates["result"] = raw
	}
	return r.UpdateFields(ctx, tx, id, updates)
}

func (r *taskRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":       types.TaskStatusFailed,
		"completed_at": time.Now(),
		"error":        errMsg,
	})
}

func (r *taskRepo) MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":       types.TaskStatusCancelled,
		"completed_at": time.Now(),
	})
}

// ResetToPending re-arms a task for retry: status back to pending, error and
// timing cleared.
func (r *taskRepo) ResetToPending(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":       types.TaskStatusPending,
		"error":        "",
		"started_at":   nil,
		"completed_at": nil,
	})
}

func (r *taskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Task
	err := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) ListRunningLongerThan(ctx context.Context, tx *gorm.DB, threshold time.Duration) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	cutoff := time.Now().Add(-threshold)
	var out []*types.Task
	err := transaction.WithContext(ctx).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", types.TaskStatusRunning, cutoff).
		Order("started_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) StatusCountsForVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&types.Task{}).
		Select("status, COUNT(*) as n").
		Where("video_id = ?", videoID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func (r *taskRepo) StatusCounts(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&types.Task{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
