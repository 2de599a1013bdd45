package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/orchestrator"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

// RegisterVideoInput is the intake payload for one library file.
type RegisterVideoInput struct {
	FilePath     string     `json:"file_path"`
	Filename     string     `json:"filename"`
	FileSize     int64      `json:"file_size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// LibraryReport is the library-wide processing summary.
type LibraryReport struct {
	Videos map[string]int64 `json:"videos"`
	Tasks  map[string]int64 `json:"tasks"`
}

// VideoService is the intake and lifecycle surface for library videos.
// Registration creates the video and fans out its first tasks in one
// transaction; deletion cascades to everything the video owns.
type VideoService interface {
	RegisterVideo(ctx context.Context, in RegisterVideoInput) (*types.Video, error)
	GetVideo(ctx context.Context, id uuid.UUID) (*types.Video, error)
	ListVideos(ctx context.Context, statuses []string) ([]*types.Video, error)
	DeleteVideo(ctx context.Context, id uuid.UUID) error
	Report(ctx context.Context) (*LibraryReport, error)
}

type videoService struct {
	db     *gorm.DB
	videos repos.VideoRepo
	tasks  repos.TaskRepo
	orch   *orchestrator.Orchestrator
	log    *logger.Logger
}

func NewVideoService(db *gorm.DB, videos repos.VideoRepo, tasks repos.TaskRepo, orch *orchestrator.Orchestrator, baseLog *logger.Logger) VideoService {
	return &videoService{
		db:     db,
		videos: videos,
		tasks:  tasks,
		orch:   orch,
		log:    baseLog.With("service", "VideoService"),
	}
}

// RegisterVideo records a discovered file and schedules its hash task. The
// file path is the identity: registering a path twice is a conflict, never a
// second row.
func (s *videoService) RegisterVideo(ctx context.Context, in RegisterVideoInput) (*types.Video, error) {
	if err := validateRegisterInput(in); err != nil {
		return nil, err
	}

	var video *types.Video
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v := &types.Video{
			FilePath:     strings.TrimSpace(in.FilePath),
			Filename:     strings.TrimSpace(in.Filename),
			FileSize:     in.FileSize,
			LastModified: in.LastModified,
			Status:       types.VideoStatusDiscovered,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		created, err := s.videos.Create(ctx, tx, v)
		if err != nil {
			return err
		}
		if _, err := s.orch.EnsureTasksForVideo(ctx, tx, created.ID); err != nil {
			return err
		}
		video = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("video registered", "video_id", video.ID, "file_path", video.FilePath, "file_size", video.FileSize)
	return video, nil
}

func (s *videoService) GetVideo(ctx context.Context, id uuid.UUID) (*types.Video, error) {
	return s.videos.GetByID(ctx, nil, id)
}

func (s *videoService) ListVideos(ctx context.Context, statuses []string) ([]*types.Video, error) {
	return s.videos.List(ctx, nil, statuses)
}

// DeleteVideo removes the video with its tasks, runs, envelopes and
// projections in one transaction.
func (s *videoService) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	if _, err := s.videos.GetByID(ctx, nil, id); err != nil {
		return err
	}
	if err := s.videos.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.log.Info("video deleted", "video_id", id)
	return nil
}

// Report aggregates per-status counts for videos and tasks across the library.
func (s *videoService) Report(ctx context.Context) (*LibraryReport, error) {
	videoCounts, err := s.videos.StatusCounts(ctx, nil)
	if err != nil {
		return nil, err
	}
	taskCounts, err := s.tasks.StatusCounts(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &LibraryReport{Videos: videoCounts, Tasks: taskCounts}, nil
}

func validateRegisterInput(in RegisterVideoInput) error {
	if strings.TrimSpace(in.FilePath) == "" {
		return apperr.Validationf("video_file_path", "file_path is required")
	}
	if strings.TrimSpace(in.Filename) == "" {
		return apperr.Validationf("video_filename", "filename is required")
	}
	if in.FileSize < 0 {
		return apperr.Validationf("video_file_size", "file_size must be >= 0, got %d", in.FileSize)
	}
	return nil
}
