package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

type RunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.Run) (*types.Run, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Run, error)
	Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errMsg string) error
	Exists(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "RunRepo"),
	}
}

func (r *runRepo) Create(ctx context.Context, tx *gorm.DB, run *types.Run) (*types.Run, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil, nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Run, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.Run
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("run_not_found", "run %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": now,
		}).Error
}

func (r *runRepo) Exists(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).Model(&types.Run{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
