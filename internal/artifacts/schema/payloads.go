package schema

import (
	"fmt"
	"strings"
	"time"
)

// Payload is the decoded, validated form of an envelope's JSON body. Each
// (artifact_type, schema_version) pair maps to exactly one concrete type.
type Payload interface {
	Validate() error
}

type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Word struct {
	Word    string  `json:"word"`
	StartMS int64   `json:"start_ms"`
	EndMS   int64   `json:"end_ms"`
	Confidence float64 `json:"confidence,omitempty"`
}

type TranscriptSegmentPayload struct {
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Words      []Word   `json:"words,omitempty"`
}

func (p *TranscriptSegmentPayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("transcript segment requires text")
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return fmt.Errorf("confidence %f outside [0,1]", *p.Confidence)
	}
	return nil
}

type ScenePayload struct {
	SceneIndex int `json:"scene_index"`
}

func (p *ScenePayload) Validate() error {
	if p.SceneIndex < 0 {
		return fmt.Errorf("scene_index must be >= 0, got %d", p.SceneIndex)
	}
	return nil
}

type ObjectDetectionPayload struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	FrameIndex int     `json:"frame_index,omitempty"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

func (p *ObjectDetectionPayload) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return fmt.Errorf("object detection requires a label")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", p.Confidence)
	}
	return nil
}

type FaceDetectionPayload struct {
	ClusterID  string  `json:"cluster_id"`
	Confidence float64 `json:"confidence"`
	FrameIndex int     `json:"frame_index,omitempty"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

func (p *FaceDetectionPayload) Validate() error {
	if strings.TrimSpace(p.ClusterID) == "" {
		return fmt.Errorf("face detection requires a cluster_id")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", p.Confidence)
	}
	return nil
}

type OCRTextPayload struct {
	Text       string       `json:"text"`
	Confidence *float64     `json:"confidence,omitempty"`
	FrameIndex int          `json:"frame_index,omitempty"`
	Polygon    [][2]float64 `json:"polygon,omitempty"`
}

func (p *OCRTextPayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("ocr text requires text")
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return fmt.Errorf("confidence %f outside [0,1]", *p.Confidence)
	}
	return nil
}

type PlaceClassificationPayload struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	FrameIndex int     `json:"frame_index,omitempty"`
}

func (p *PlaceClassificationPayload) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return fmt.Errorf("place classification requires a label")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", p.Confidence)
	}
	return nil
}

type VideoMetadataPayload struct {
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CreateDate      *time.Time `json:"create_date,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	Altitude        *float64   `json:"altitude,omitempty"`
	Width           int        `json:"width,omitempty"`
	Height          int        `json:"height,omitempty"`
	Codec           string     `json:"codec,omitempty"`
	FrameRate       float64    `json:"frame_rate,omitempty"`
}

func (p *VideoMetadataPayload) Validate() error {
	if p.DurationSeconds != nil && *p.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must be >= 0")
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("latitude and longitude must be set together")
	}
	if p.Latitude != nil {
		if *p.Latitude < -90 || *p.Latitude > 90 {
			return fmt.Errorf("latitude %f outside [-90,90]", *p.Latitude)
		}
		if *p.Longitude < -180 || *p.Longitude > 180 {
			return fmt.Errorf("longitude %f outside [-180,180]", *p.Longitude)
		}
	}
	return nil
}

// HasLocation reports whether the payload carries a plottable coordinate pair.
func (p *VideoMetadataPayload) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}
