package producers

import (
	"context"

	"github.com/google/uuid"

	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/provenance"
)

// Config is the option set handed to every producer. Map() is the canonical
// form used for config hashing; every recognized option appears there.
type Config struct {
	FrameInterval       int
	ConfidenceThreshold float64
	ModelName           string
	ModelProfile        string
	Language            string
	Languages           []string
	GPU                 bool
}

func (c Config) Map() map[string]interface{} {
	m := map[string]interface{}{
		"frame_interval":       c.FrameInterval,
		"confidence_threshold": c.ConfidenceThreshold,
		"model_name":           c.ModelName,
		"model_profile":        c.ModelProfile,
		"gpu":                  c.GPU,
	}
	if c.Language != "" {
		m["language"] = c.Language
	}
	if len(c.Languages) > 0 {
		langs := make([]interface{}, len(c.Languages))
		for i, l := range c.Languages {
			langs[i] = l
		}
		m["languages"] = langs
	}
	return m
}

type Detection struct {
	FrameIndex  int
	TimestampMS int64
	EndMS       int64
	Label       string
	Confidence  float64
	BBox        *schema.BBox
	ClusterID   string
}

type Segment struct {
	StartMS    int64
	EndMS      int64
	Text       string
	Confidence *float64
	Words      []schema.Word
	Language   string
}

type Scene struct {
	SceneIndex int
	StartMS    int64
	EndMS      int64
}

type Prediction struct {
	Label      string
	Confidence float64
}

type Classification struct {
	FrameIndex  int
	TimestampMS int64
	EndMS       int64
	Predictions []Prediction
}

// Result is what every producer returns: full provenance plus exactly one of
// the payload collections populated.
type Result struct {
	RunID           uuid.UUID
	ConfigHash      string
	InputHash       string
	Producer        string
	ProducerVersion string
	ModelProfile    string

	Detections      []Detection
	Segments        []Segment
	Scenes          []Scene
	Classifications []Classification
	Metadata        *schema.VideoMetadataPayload
}

// Producer is the contract with the opaque ML engines: given a video path and
// a config, return typed detections with timing and provenance. Long calls
// must honor ctx cancellation.
type Producer interface {
	Name() string
	Version() string
	Process(ctx context.Context, videoPath string, cfg Config) (*Result, error)
}

// newResult stamps the provenance block shared by every implementation.
func newResult(name, version string, videoPath string, cfg Config) (*Result, error) {
	configHash, err := provenance.ConfigHash(cfg.Map())
	if err != nil {
		return nil, err
	}
	inputHash, err := provenance.InputHash(videoPath)
	if err != nil {
		return nil, err
	}
	profile := cfg.ModelProfile
	if profile == "" {
		profile = "balanced"
	}
	return &Result{
		RunID:           uuid.New(),
		ConfigHash:      configHash,
		InputHash:       inputHash,
		Producer:        name,
		ProducerVersion: version,
		ModelProfile:    profile,
	}, nil
}
