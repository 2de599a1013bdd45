package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

const (
	TaskTypeHash                = "hash"
	TaskTypeTranscription       = "transcription"
	TaskTypeSceneDetection      = "scene_detection"
	TaskTypeObjectDetection     = "object_detection"
	TaskTypeFaceDetection       = "face_detection"
	TaskTypeOCR                 = "ocr"
	TaskTypePlaceDetection      = "place_detection"
	TaskTypeMetadataExtraction  = "metadata_extraction"
	TaskTypeThumbnailExtraction = "thumbnail_extraction"
	TaskTypeTopicExtraction     = "topic_extraction"
	TaskTypeEmbeddingGeneration = "embedding_generation"
	TaskTypeThumbnailGeneration = "thumbnail_generation"
)

// Task priorities. 1 is most urgent, 10 least. Queue order is
// (priority ASC, created_at ASC).
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4
)

type Task struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VideoID uuid.UUID `gorm:"type:uuid;column:video_id;not null;index:idx_task_video_type,priority:1" json:"video_id"`
	Type    string    `gorm:"column:task_type;not null;index:idx_task_video_type,priority:2;index:idx_task_claim,priority:1" json:"task_type"`
	Status  string    `gorm:"column:status;not null;index:idx_task_claim,priority:2;default:pending" json:"status"`
	Priority int      `gorm:"column:priority;not null;default:3;index:idx_task_claim,priority:3" json:"priority"`
	// Language disambiguates per-language multi-run tasks (e.g. two
	// transcription passes). Empty for single-run types.
	Language    string         `gorm:"column:language;index:idx_task_video_type,priority:3" json:"language,omitempty"`
	Dependencies datatypes.JSON `gorm:"column:dependencies;type:jsonb" json:"dependencies,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index;index:idx_task_claim,priority:4" json:"created_at"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "task" }

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether the task can never run again without an explicit retry.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled
}

// AllTaskTypes lists every type the orchestrator can schedule, in dependency
// order (roots first).
func AllTaskTypes() []string {
	return []string{
		TaskTypeHash,
		TaskTypeTranscription,
		TaskTypeSceneDetection,
		TaskTypeObjectDetection,
		TaskTypeFaceDetection,
		TaskTypeOCR,
		TaskTypePlaceDetection,
		TaskTypeMetadataExtraction,
		TaskTypeTopicExtraction,
		TaskTypeEmbeddingGeneration,
		TaskTypeThumbnailGeneration,
		TaskTypeThumbnailExtraction,
	}
}
