package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run groups the envelopes produced by a single pipeline invocation.
type Run struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID         uuid.UUID  `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	PipelineProfile string     `gorm:"column:pipeline_profile;not null;default:balanced" json:"pipeline_profile"`
	Status          string     `gorm:"column:status;not null;index;default:running" json:"status"`
	Error           string     `gorm:"column:error" json:"error,omitempty"`
	StartedAt       time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt      *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
}

func (Run) TableName() string { return "run" }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
