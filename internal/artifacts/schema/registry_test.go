package schema

import (
	"encoding/json"
	"testing"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/types"
)

func TestRegisterDuplicateConflicts(t *testing.T) {
	r := NewRegistry()
	dec := func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &ScenePayload{})
	}
	if err := r.Register(types.ArtifactTypeScene, 1, dec); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(types.ArtifactTypeScene, 1, dec)
	if err == nil {
		t.Fatalf("duplicate register should fail")
	}
	if !apperr.Is(err, apperr.ClassConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	defer func() {
		if recover() == nil {
			t.Fatalf("register after freeze should panic")
		}
	}()
	_ = r.Register(types.ArtifactTypeScene, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &ScenePayload{})
	})
}

func TestDecodeUnknownType(t *testing.T) {
	r := Default()
	_, err := r.Decode("something.else", 1, json.RawMessage(`{}`))
	if !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	_, err = r.Decode(types.ArtifactTypeScene, 99, json.RawMessage(`{"scene_index":0}`))
	if !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error for unknown version, got %v", err)
	}
}

func TestDecodeValidatesPayload(t *testing.T) {
	r := Default()

	p, err := r.Decode(types.ArtifactTypeObjectDetection, 1, json.RawMessage(`{"label":"dog","confidence":0.87}`))
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	obj, ok := p.(*ObjectDetectionPayload)
	if !ok {
		t.Fatalf("wrong payload type %T", p)
	}
	if obj.Label != "dog" || obj.Confidence != 0.87 {
		t.Fatalf("payload fields lost: %+v", obj)
	}

	if _, err := r.Decode(types.ArtifactTypeObjectDetection, 1, json.RawMessage(`{"label":"dog","confidence":1.5}`)); !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("out-of-range confidence should be a validation error, got %v", err)
	}
	if _, err := r.Decode(types.ArtifactTypeObjectDetection, 1, json.RawMessage(`{"confidence":0.5}`)); !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("missing label should be a validation error, got %v", err)
	}
	if _, err := r.Decode(types.ArtifactTypeObjectDetection, 1, json.RawMessage(`{"label":"dog","confidence":0.5,"surprise":true}`)); !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("unknown field should be a validation error, got %v", err)
	}
}

func TestVideoMetadataLocationValidation(t *testing.T) {
	r := Default()
	if _, err := r.Decode(types.ArtifactTypeVideoMetadata, 1, json.RawMessage(`{"latitude":47.6,"longitude":-122.3}`)); err != nil {
		t.Fatalf("valid coordinates rejected: %v", err)
	}
	if _, err := r.Decode(types.ArtifactTypeVideoMetadata, 1, json.RawMessage(`{"latitude":95.0,"longitude":0}`)); !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("latitude out of range should fail, got %v", err)
	}
	if _, err := r.Decode(types.ArtifactTypeVideoMetadata, 1, json.RawMessage(`{"latitude":10.0}`)); !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("lone latitude should fail, got %v", err)
	}
}
