package orchestrator

import (
	"github.com/videolens/videolens-backend/internal/types"
)

// The task dependency graph is fixed. hash is the only root; the parallel ML
// types fan out from it; the derived types gate on their producers.
var dependencyGraph = map[string][]string{
	types.TaskTypeHash:               {},
	types.TaskTypeTranscription:      {types.TaskTypeHash},
	types.TaskTypeSceneDetection:     {types.TaskTypeHash},
	types.TaskTypeObjectDetection:    {types.TaskTypeHash},
	types.TaskTypeFaceDetection:      {types.TaskTypeHash},
	types.TaskTypeOCR:                {types.TaskTypeHash},
	types.TaskTypePlaceDetection:     {types.TaskTypeHash},
	types.TaskTypeMetadataExtraction: {types.TaskTypeHash},
	types.TaskTypeTopicExtraction:    {types.TaskTypeHash, types.TaskTypeTranscription},
	types.TaskTypeEmbeddingGeneration: {types.TaskTypeHash, types.TaskTypeTranscription},
	types.TaskTypeThumbnailGeneration: {types.TaskTypeHash, types.TaskTypeSceneDetection},
	// thumbnail_extraction waits for every artifact-producing task so the
	// interesting timestamps are all known.
	types.TaskTypeThumbnailExtraction: {
		types.TaskTypeHash,
		types.TaskTypeTranscription,
		types.TaskTypeSceneDetection,
		types.TaskTypeObjectDetection,
		types.TaskTypeFaceDetection,
		types.TaskTypeOCR,
		types.TaskTypePlaceDetection,
		types.TaskTypeMetadataExtraction,
	},
}

var priorityByType = map[string]int{
	types.TaskTypeHash:                types.PriorityCritical,
	types.TaskTypeTranscription:       types.PriorityHigh,
	types.TaskTypeEmbeddingGeneration: types.PriorityHigh,
	types.TaskTypeSceneDetection:      types.PriorityMedium,
	types.TaskTypeObjectDetection:     types.PriorityMedium,
	types.TaskTypeFaceDetection:       types.PriorityMedium,
	types.TaskTypeOCR:                 types.PriorityMedium,
	types.TaskTypePlaceDetection:      types.PriorityMedium,
	types.TaskTypeMetadataExtraction:  types.PriorityMedium,
	types.TaskTypeTopicExtraction:     types.PriorityLow,
	types.TaskTypeThumbnailExtraction: types.PriorityLow,
	types.TaskTypeThumbnailGeneration: types.PriorityLow,
}

func Dependencies(taskType string) []string {
	return dependencyGraph[taskType]
}

func PriorityFor(taskType string) int {
	if p, ok := priorityByType[taskType]; ok {
		return p
	}
	return types.PriorityMedium
}

func KnownType(taskType string) bool {
	_, ok := dependencyGraph[taskType]
	return ok
}

// statusReady applies the video-status half of the readiness rule.
func statusReady(taskType string, video *types.Video) bool {
	hasHash := video.FileHash != nil && *video.FileHash != ""
	switch taskType {
	case types.TaskTypeHash:
		return video.Status == types.VideoStatusDiscovered && !hasHash
	case types.TaskTypeTranscription, types.TaskTypeSceneDetection,
		types.TaskTypeObjectDetection, types.TaskTypeFaceDetection,
		types.TaskTypeOCR, types.TaskTypePlaceDetection,
		types.TaskTypeMetadataExtraction:
		return hasHash && (video.Status == types.VideoStatusHashed || video.Status == types.VideoStatusProcessing)
	default:
		return hasHash && (video.Status == types.VideoStatusProcessing || video.Status == types.VideoStatusCompleted)
	}
}

// dependenciesMet reports whether every dependency type of taskType is
// recorded completed.
func dependenciesMet(taskType string, completed map[string]bool) bool {
	for _, dep := range dependencyGraph[taskType] {
		if !completed[dep] {
			return false
		}
	}
	return true
}
