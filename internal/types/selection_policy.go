package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SelectionModeDefault     = "default"
	SelectionModeLatest      = "latest"
	SelectionModePinned      = "pinned"
	SelectionModeProfile     = "profile"
	SelectionModeBestQuality = "best_quality"
)

// SelectionPolicy is the per-(asset, artifact_type) rule for which run's
// envelopes to surface at query time. It references runs weakly: a pinned run
// that has vanished falls back to the mode default at resolution time.
type SelectionPolicy struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID          uuid.UUID  `gorm:"type:uuid;column:asset_id;not null;uniqueIndex:idx_policy_asset_type,priority:1" json:"asset_id"`
	ArtifactType     string     `gorm:"column:artifact_type;not null;uniqueIndex:idx_policy_asset_type,priority:2" json:"artifact_type"`
	Mode             string     `gorm:"column:mode;not null;default:default" json:"mode"`
	PinnedRunID      *uuid.UUID `gorm:"type:uuid;column:pinned_run_id" json:"pinned_run_id,omitempty"`
	PreferredProfile string     `gorm:"column:preferred_profile" json:"preferred_profile,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

func (SelectionPolicy) TableName() string { return "selection_policy" }

func (p *SelectionPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
