package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

type VideoRepo interface {
	Create(ctx context.Context, tx *gorm.DB, video *types.Video) (*types.Video, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Video, error)
	GetByPath(ctx context.Context, tx *gorm.DB, path string) (*types.Video, error)
	List(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.Video, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	StatusCounts(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{
		db:  db,
		log: baseLog.With("repo", "VideoRepo"),
	}
}

func (r *videoRepo) Create(ctx context.Context, tx *gorm.DB, video *types.Video) (*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if video == nil {
		return nil, nil
	}
	err := transaction.WithContext(ctx).Create(video).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflictf("video_exists", "video already registered for path %s", video.FilePath)
		}
		return nil, err
	}
	return video, nil
}

func (r *videoRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var video types.Video
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("video_not_found", "video %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepo) GetByPath(ctx context.Context, tx *gorm.DB, path string) (*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var video types.Video
	err := transaction.WithContext(ctx).Where("file_path = ?", path).First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("video_not_found", "no video at path %s", path)
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepo) List(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	q := transaction.WithContext(ctx).Order("created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Video{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete removes the video and everything it owns. Children are deleted
// explicitly so the cascade holds on stores without FK cascade support.
func (r *videoRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		for _, stmt := range []interface{}{
			&types.SceneRange{}, &types.ObjectLabel{}, &types.FaceCluster{},
			&types.TranscriptSegment{}, &types.OCRText{},
		} {
			if err := txx.Where("asset_id = ?", id).Delete(stmt).Error; err != nil {
				return err
			}
		}
		if err := txx.Where("video_id = ?", id).Delete(&types.VideoLocation{}).Error; err != nil {
			return err
		}
		if err := txx.Where("asset_id = ?", id).Delete(&types.ArtifactEnvelope{}).Error; err != nil {
			return err
		}
		if err := txx.Where("asset_id = ?", id).Delete(&types.Run{}).Error; err != nil {
			return err
		}
		if err := txx.Where("asset_id = ?", id).Delete(&types.SelectionPolicy{}).Error; err != nil {
			return err
		}
		if err := txx.Where("video_id = ?", id).Delete(&types.Task{}).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.Video{}).Error
	})
}

func (r *videoRepo) StatusCounts(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
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
		Model(&types.Video{}).
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

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}
