package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	VideoStatusDiscovered = "discovered"
	VideoStatusHashed     = "hashed"
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
	VideoStatusMissing    = "missing"
)

type Video struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FilePath        string     `gorm:"column:file_path;not null;uniqueIndex" json:"file_path"`
	Filename        string     `gorm:"column:filename;not null;index" json:"filename"`
	FileSize        int64      `gorm:"column:file_size;not null;default:0" json:"file_size"`
	FileHash        *string    `gorm:"column:file_hash;index" json:"file_hash,omitempty"`
	DurationSeconds *float64   `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	LastModified    *time.Time `gorm:"column:last_modified" json:"last_modified,omitempty"`
	// FileCreatedAt is the global-timeline sort key. NULL sorts after every
	// non-null value in both traversal directions.
	FileCreatedAt *time.Time `gorm:"column:file_created_at;index" json:"file_created_at,omitempty"`
	Status        string     `gorm:"column:status;not null;index;default:discovered" json:"status"`
	ProcessedAt   *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (Video) TableName() string { return "video" }

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
