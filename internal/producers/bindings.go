package producers

import (
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

// Registry binds artifact-producing task types to a Producer implementation.
type Registry map[string]Producer

var producingTypes = []string{
	types.TaskTypeTranscription,
	types.TaskTypeSceneDetection,
	types.TaskTypeObjectDetection,
	types.TaskTypeFaceDetection,
	types.TaskTypeOCR,
	types.TaskTypePlaceDetection,
	types.TaskTypeMetadataExtraction,
}

// NewStubRegistry binds every producing type to the deterministic stub.
func NewStubRegistry() Registry {
	reg := Registry{}
	for _, tt := range producingTypes {
		reg[tt] = NewStubProducer(tt)
	}
	return reg
}

// NewLocalRegistry is the no-credentials default: stubs for the ML types and
// real ffprobe metadata extraction.
func NewLocalRegistry(ffprobePath string) Registry {
	reg := NewStubRegistry()
	reg[types.TaskTypeMetadataExtraction] = NewMetadataProducer(ffprobePath)
	return reg
}

// EnableGCP swaps the cloud adapters in for every type they cover. Metadata
// extraction stays local; ffprobe is authoritative for container metadata.
func EnableGCP(reg Registry, baseLog *logger.Logger, ffmpegPath string) error {
	speechP, err := NewSpeechProducer(baseLog, ffmpegPath)
	if err != nil {
		return err
	}
	objects, err := NewVideoIntelligenceProducer(baseLog, VideoModeObjects)
	if err != nil {
		return err
	}
	scenes, err := NewVideoIntelligenceProducer(baseLog, VideoModeScenes)
	if err != nil {
		return err
	}
	places, err := NewVideoIntelligenceProducer(baseLog, VideoModePlaces)
	if err != nil {
		return err
	}
	ocr, err := NewVisionFrameProducer(baseLog, VisionModeOCR, ffmpegPath)
	if err != nil {
		return err
	}
	faces, err := NewVisionFrameProducer(baseLog, VisionModeFaces, ffmpegPath)
	if err != nil {
		return err
	}
	reg[types.TaskTypeTranscription] = speechP
	reg[types.TaskTypeObjectDetection] = objects
	reg[types.TaskTypeSceneDetection] = scenes
	reg[types.TaskTypePlaceDetection] = places
	reg[types.TaskTypeOCR] = ocr
	reg[types.TaskTypeFaceDetection] = faces
	return nil
}
