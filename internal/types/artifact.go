package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ArtifactTypeTranscriptSegment   = "transcript.segment"
	ArtifactTypeScene               = "scene"
	ArtifactTypeObjectDetection     = "object.detection"
	ArtifactTypeFaceDetection       = "face.detection"
	ArtifactTypeOCRText             = "ocr.text"
	ArtifactTypePlaceClassification = "place.classification"
	ArtifactTypeVideoMetadata       = "video.metadata"
)

const (
	ModelProfileFast        = "fast"
	ModelProfileBalanced    = "balanced"
	ModelProfileHighQuality = "high_quality"
)

// ArtifactEnvelope is the canonical wrapper for one ML output. Rows are
// append-only: once written they are never mutated, and multiple envelopes for
// the same (asset, type, span) may coexist across runs.
type ArtifactEnvelope struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID       uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index:idx_artifact_asset_type,priority:1" json:"asset_id"`
	ArtifactType  string    `gorm:"column:artifact_type;not null;index:idx_artifact_asset_type,priority:2" json:"artifact_type"`
	SchemaVersion int       `gorm:"column:schema_version;not null;default:1" json:"schema_version"`
	SpanStartMS   int64     `gorm:"column:span_start_ms;not null;index" json:"span_start_ms"`
	SpanEndMS     int64     `gorm:"column:span_end_ms;not null" json:"span_end_ms"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`

	// Provenance block.
	Producer        string    `gorm:"column:producer;not null" json:"producer"`
	ProducerVersion string    `gorm:"column:producer_version" json:"producer_version,omitempty"`
	ModelProfile    string    `gorm:"column:model_profile;not null;default:balanced" json:"model_profile"`
	ConfigHash      string    `gorm:"column:config_hash;not null" json:"config_hash"`
	InputHash       string    `gorm:"column:input_hash;not null" json:"input_hash"`
	RunID           uuid.UUID `gorm:"type:uuid;column:run_id;not null;index" json:"run_id"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (ArtifactEnvelope) TableName() string { return "artifact_envelope" }

func (a *ArtifactEnvelope) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
