package producers

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/types"
)

// StubProducer emits small deterministic outputs derived from the video path.
// It backs task types that have no cloud adapter yet and keeps the pipeline
// runnable end to end without GCP credentials.
type StubProducer struct {
	taskType string
}

func NewStubProducer(taskType string) *StubProducer {
	return &StubProducer{taskType: taskType}
}

func (p *StubProducer) Name() string    { return "stub_" + p.taskType }
func (p *StubProducer) Version() string { return "1.0.0" }

func (p *StubProducer) Process(ctx context.Context, videoPath string, cfg Config) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := newResult(p.Name(), p.Version(), videoPath, cfg)
	if err != nil {
		return nil, err
	}
	seed := pathSeed(videoPath)
	switch p.taskType {
	case types.TaskTypeTranscription:
		conf := 0.9
		res.Segments = []Segment{{
			StartMS:    0,
			EndMS:      4000,
			Text:       fmt.Sprintf("sample transcript %d", seed%100),
			Confidence: &conf,
			Language:   cfg.Language,
		}}
	case types.TaskTypeSceneDetection:
		res.Scenes = []Scene{
			{SceneIndex: 0, StartMS: 0, EndMS: 5000 + int64(seed%5000)},
			{SceneIndex: 1, StartMS: 5000 + int64(seed%5000), EndMS: 15000},
		}
	case types.TaskTypeObjectDetection:
		labels := []string{"person", "dog", "car", "tree"}
		res.Detections = []Detection{{
			TimestampMS: int64(seed % 10000),
			EndMS:       int64(seed%10000) + 1000,
			Label:       labels[seed%uint32(len(labels))],
			Confidence:  0.8,
		}}
	case types.TaskTypeFaceDetection:
		res.Detections = []Detection{{
			TimestampMS: int64(seed % 8000),
			EndMS:       int64(seed%8000) + 500,
			ClusterID:   fmt.Sprintf("cluster_%d", seed%4),
			Confidence:  0.85,
		}}
	case types.TaskTypeOCR:
		res.Detections = []Detection{{
			TimestampMS: int64(seed % 6000),
			EndMS:       int64(seed%6000) + 1000,
			Label:       fmt.Sprintf("STREET SIGN %d", seed%50),
			Confidence:  0.75,
		}}
	case types.TaskTypePlaceDetection:
		places := []string{"beach", "kitchen", "park", "office"}
		res.Classifications = []Classification{{
			TimestampMS: 0,
			EndMS:       2000,
			Predictions: []Prediction{{Label: places[seed%uint32(len(places))], Confidence: 0.7}},
		}}
	case types.TaskTypeMetadataExtraction:
		duration := float64(15 + seed%300)
		res.Metadata = &schema.VideoMetadataPayload{
			DurationSeconds: &duration,
			Width:           1920,
			Height:          1080,
			Codec:           "h264",
			FrameRate:       30,
		}
	}
	return res, nil
}

func pathSeed(path string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(path))
	return h.Sum32()
}
