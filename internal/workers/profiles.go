package workers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/videolens/videolens-backend/internal/types"
)

const (
	ResourceCPU = "cpu"
	ResourceGPU = "gpu"
	ResourceIO  = "io"

	defaultTimeoutSeconds = 1800
)

// TaskSettings tune one task type within a processing profile.
type TaskSettings struct {
	WorkerCount         int     `yaml:"worker_count"`
	Resource            string  `yaml:"resource"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	FrameInterval       int     `yaml:"frame_interval"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ModelName           string  `yaml:"model_name"`
	ModelProfile        string  `yaml:"model_profile"`
}

// Profile is a named allocation of workers and model settings across the task
// types. Built-ins cover the common machine shapes; a YAML file overrides.
type Profile struct {
	Name  string                  `yaml:"name"`
	Tasks map[string]TaskSettings `yaml:"tasks"`
}

// SettingsFor returns the task settings with profile-independent defaults
// filled in. Unknown types get a zero-worker entry.
func (p *Profile) SettingsFor(taskType string) TaskSettings {
	s := p.Tasks[taskType]
	if s.Resource == "" {
		s.Resource = ResourceCPU
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = defaultTimeoutSeconds
	}
	if s.FrameInterval <= 0 {
		s.FrameInterval = 5
	}
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = 0.5
	}
	if s.ModelProfile == "" {
		s.ModelProfile = types.ModelProfileBalanced
	}
	return s
}

// DisabledTypes lists the task types this profile schedules no workers for.
func (p *Profile) DisabledTypes() map[string]bool {
	out := map[string]bool{}
	for _, tt := range types.AllTaskTypes() {
		if tt == types.TaskTypeHash {
			continue
		}
		if p.Tasks[tt].WorkerCount == 0 {
			out[tt] = true
		}
	}
	return out
}

// BuiltinProfile resolves one of the shipped profiles.
func BuiltinProfile(name string) (*Profile, error) {
	switch name {
	case "", "balanced":
		return balancedProfile(), nil
	case "search_first":
		return searchFirstProfile(), nil
	case "visual_first":
		return visualFirstProfile(), nil
	case "low_resource":
		return lowResourceProfile(), nil
	default:
		return nil, fmt.Errorf("unknown processing profile %q", name)
	}
}

// LoadProfileFile reads a YAML profile. The file replaces the built-in
// entirely; unlisted task types get zero workers.
func LoadProfileFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("profile %s has no name", path)
	}
	for tt, s := range p.Tasks {
		if !knownTaskType(tt) {
			return nil, fmt.Errorf("profile %s references unknown task type %q", path, tt)
		}
		switch s.Resource {
		case "", ResourceCPU, ResourceGPU, ResourceIO:
		default:
			return nil, fmt.Errorf("profile %s: task %s has unknown resource %q", path, tt, s.Resource)
		}
	}
	return &p, nil
}

func knownTaskType(tt string) bool {
	for _, known := range types.AllTaskTypes() {
		if tt == known {
			return true
		}
	}
	return false
}

func balancedProfile() *Profile {
	return &Profile{
		Name: "balanced",
		Tasks: map[string]TaskSettings{
			types.TaskTypeHash:                {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 600},
			types.TaskTypeMetadataExtraction:  {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 300},
			types.TaskTypeTranscription:       {WorkerCount: 1, Resource: ResourceGPU},
			types.TaskTypeSceneDetection:      {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeObjectDetection:     {WorkerCount: 1, Resource: ResourceGPU, FrameInterval: 5},
			types.TaskTypeFaceDetection:       {WorkerCount: 1, Resource: ResourceGPU, FrameInterval: 5},
			types.TaskTypeOCR:                 {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 10},
			types.TaskTypePlaceDetection:      {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 10},
			types.TaskTypeTopicExtraction:     {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeEmbeddingGeneration: {WorkerCount: 1, Resource: ResourceGPU},
			types.TaskTypeThumbnailGeneration: {WorkerCount: 1, Resource: ResourceCPU, TimeoutSeconds: 600},
			types.TaskTypeThumbnailExtraction: {WorkerCount: 1, Resource: ResourceIO, TimeoutSeconds: 600},
		},
	}
}

func searchFirstProfile() *Profile {
	return &Profile{
		Name: "search_first",
		Tasks: map[string]TaskSettings{
			types.TaskTypeHash:                {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 600},
			types.TaskTypeMetadataExtraction:  {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 300},
			types.TaskTypeTranscription:       {WorkerCount: 2, Resource: ResourceGPU, ModelProfile: types.ModelProfileHighQuality},
			types.TaskTypeOCR:                 {WorkerCount: 2, Resource: ResourceCPU, FrameInterval: 5},
			types.TaskTypeSceneDetection:      {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeObjectDetection:     {WorkerCount: 1, Resource: ResourceGPU, FrameInterval: 10},
			types.TaskTypeTopicExtraction:     {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeEmbeddingGeneration: {WorkerCount: 2, Resource: ResourceGPU},
			types.TaskTypeThumbnailGeneration: {WorkerCount: 1, Resource: ResourceCPU, TimeoutSeconds: 600},
			types.TaskTypeThumbnailExtraction: {WorkerCount: 1, Resource: ResourceIO, TimeoutSeconds: 600},
			types.TaskTypeFaceDetection:       {WorkerCount: 1, Resource: ResourceGPU, FrameInterval: 10},
			types.TaskTypePlaceDetection:      {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 15},
		},
	}
}

func visualFirstProfile() *Profile {
	return &Profile{
		Name: "visual_first",
		Tasks: map[string]TaskSettings{
			types.TaskTypeHash:                {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 600},
			types.TaskTypeMetadataExtraction:  {WorkerCount: 2, Resource: ResourceIO, TimeoutSeconds: 300},
			types.TaskTypeObjectDetection:     {WorkerCount: 2, Resource: ResourceGPU, FrameInterval: 3, ModelProfile: types.ModelProfileHighQuality},
			types.TaskTypeFaceDetection:       {WorkerCount: 2, Resource: ResourceGPU, FrameInterval: 3, ModelProfile: types.ModelProfileHighQuality},
			types.TaskTypeSceneDetection:      {WorkerCount: 2, Resource: ResourceCPU},
			types.TaskTypePlaceDetection:      {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 5},
			types.TaskTypeTranscription:       {WorkerCount: 1, Resource: ResourceGPU, ModelProfile: types.ModelProfileFast},
			types.TaskTypeOCR:                 {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 10},
			types.TaskTypeTopicExtraction:     {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeEmbeddingGeneration: {WorkerCount: 1, Resource: ResourceGPU},
			types.TaskTypeThumbnailGeneration: {WorkerCount: 2, Resource: ResourceCPU, TimeoutSeconds: 600},
			types.TaskTypeThumbnailExtraction: {WorkerCount: 1, Resource: ResourceIO, TimeoutSeconds: 600},
		},
	}
}

func lowResourceProfile() *Profile {
	return &Profile{
		Name: "low_resource",
		Tasks: map[string]TaskSettings{
			types.TaskTypeHash:               {WorkerCount: 1, Resource: ResourceIO, TimeoutSeconds: 600},
			types.TaskTypeMetadataExtraction: {WorkerCount: 1, Resource: ResourceIO, TimeoutSeconds: 300},
			types.TaskTypeTranscription:      {WorkerCount: 1, Resource: ResourceCPU, ModelProfile: types.ModelProfileFast},
			types.TaskTypeSceneDetection:     {WorkerCount: 1, Resource: ResourceCPU},
			types.TaskTypeObjectDetection:    {WorkerCount: 1, Resource: ResourceCPU, FrameInterval: 15, ModelProfile: types.ModelProfileFast},
			// face, ocr, place, topic, embedding, thumbnails stay disabled.
		},
	}
}
