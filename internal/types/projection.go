package types

import (
	"github.com/google/uuid"
)

// Projection rows are derived from envelopes and maintained in the same
// transaction that writes the envelope. Every row carries the artifact_id of
// the envelope it was derived from; deleting the envelope removes the row.

type SceneRange struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;uniqueIndex" json:"artifact_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	SceneIndex int       `gorm:"column:scene_index;not null" json:"scene_index"`
	StartMS    int64     `gorm:"column:start_ms;not null;index" json:"start_ms"`
	EndMS      int64     `gorm:"column:end_ms;not null" json:"end_ms"`
}

func (SceneRange) TableName() string { return "scene_ranges" }

// ObjectLabel backs both object.detection and place.classification envelopes;
// the two are distinguished at query time via the source envelope's type.
type ObjectLabel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;uniqueIndex" json:"artifact_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	Label      string    `gorm:"column:label;not null;index" json:"label"`
	Confidence float64   `gorm:"column:confidence;not null" json:"confidence"`
	StartMS    int64     `gorm:"column:start_ms;not null;index" json:"start_ms"`
	EndMS      int64     `gorm:"column:end_ms;not null" json:"end_ms"`
}

func (ObjectLabel) TableName() string { return "object_labels" }

type FaceCluster struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;uniqueIndex" json:"artifact_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	ClusterID  string    `gorm:"column:cluster_id;not null;index" json:"cluster_id"`
	Confidence float64   `gorm:"column:confidence;not null" json:"confidence"`
	StartMS    int64     `gorm:"column:start_ms;not null;index" json:"start_ms"`
	EndMS      int64     `gorm:"column:end_ms;not null" json:"end_ms"`
}

func (FaceCluster) TableName() string { return "face_clusters" }

// VideoLocation holds one location per video (UPSERT keyed by video_id).
type VideoLocation struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;index" json:"artifact_id"`
	VideoID    uuid.UUID `gorm:"type:uuid;column:video_id;not null;uniqueIndex" json:"video_id"`
	Latitude   float64   `gorm:"column:latitude;not null" json:"latitude"`
	Longitude  float64   `gorm:"column:longitude;not null" json:"longitude"`
	Altitude   *float64  `gorm:"column:altitude" json:"altitude,omitempty"`
	Country    string    `gorm:"column:country;index" json:"country,omitempty"`
	State      string    `gorm:"column:state;index" json:"state,omitempty"`
	City       string    `gorm:"column:city;index" json:"city,omitempty"`
}

func (VideoLocation) TableName() string { return "video_locations" }

// TranscriptSegment is the queryable side of transcript.segment envelopes.
// On dialects with native full-text support a sibling index (FTS5 table or
// tsvector column) shadows the text column.
type TranscriptSegment struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;uniqueIndex" json:"artifact_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	StartMS    int64     `gorm:"column:start_ms;not null;index" json:"start_ms"`
	EndMS      int64     `gorm:"column:end_ms;not null" json:"end_ms"`
	Text       string    `gorm:"column:text;not null" json:"text"`
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }

type OCRText struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtifactID uuid.UUID `gorm:"type:uuid;column:artifact_id;not null;uniqueIndex" json:"artifact_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	StartMS    int64     `gorm:"column:start_ms;not null;index" json:"start_ms"`
	EndMS      int64     `gorm:"column:end_ms;not null" json:"end_ms"`
	Text       string    `gorm:"column:text;not null" json:"text"`
}

func (OCRText) TableName() string { return "ocr_texts" }
