package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/types"
)

// Decoder turns a raw JSON payload into its typed form. Validation runs after
// decode; unknown fields are rejected so stale producers fail loudly.
type Decoder func(raw json.RawMessage) (Payload, error)

type key struct {
	ArtifactType  string
	SchemaVersion int
}

// Registry maps (artifact_type, schema_version) to a payload decoder. It is
// write-once: registration happens during a bounded init phase, Freeze ends
// the phase, and reads afterwards are lock-free.
type Registry struct {
	mu      sync.Mutex
	frozen  atomic.Bool
	entries map[key]Decoder
}

func NewRegistry() *Registry {
	return &Registry{entries: map[key]Decoder{}}
}

func (r *Registry) Register(artifactType string, schemaVersion int, dec Decoder) error {
	if r.frozen.Load() {
		panic(fmt.Sprintf("schema registry is frozen; cannot register %s v%d", artifactType, schemaVersion))
	}
	if artifactType == "" || schemaVersion < 1 || dec == nil {
		return apperr.Validationf("schema_register", "invalid registration for %q v%d", artifactType, schemaVersion)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{ArtifactType: artifactType, SchemaVersion: schemaVersion}
	if _, exists := r.entries[k]; exists {
		return apperr.Conflictf("schema_exists", "schema already registered for %s v%d", artifactType, schemaVersion)
	}
	r.entries[k] = dec
	return nil
}

// Freeze ends the registration phase. Reads never lock after this point.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Decode validates raw against the registered schema and returns the typed
// payload. Unknown (type, version) pairs and validation failures are
// ErrValidation-class; nothing is ever partially decoded.
func (r *Registry) Decode(artifactType string, schemaVersion int, raw json.RawMessage) (Payload, error) {
	dec, ok := r.lookup(key{ArtifactType: artifactType, SchemaVersion: schemaVersion})
	if !ok {
		return nil, apperr.Validationf("schema_unknown", "no schema registered for %s v%d", artifactType, schemaVersion)
	}
	p, err := dec(raw)
	if err != nil {
		return nil, apperr.Validation("payload_decode", err)
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.Validation("payload_invalid", err)
	}
	return p, nil
}

func (r *Registry) Known(artifactType string, schemaVersion int) bool {
	_, ok := r.lookup(key{ArtifactType: artifactType, SchemaVersion: schemaVersion})
	return ok
}

// lookup skips the mutex once the registry is frozen; the map is immutable
// from that point on.
func (r *Registry) lookup(k key) (Decoder, bool) {
	if r.frozen.Load() {
		dec, ok := r.entries[k]
		return dec, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.entries[k]
	return dec, ok
}

func strictDecode[T Payload](raw json.RawMessage, out T) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Default builds the registry for every built-in artifact type at version 1
// and freezes it. Tests that exercise registration build their own registry.
func Default() *Registry {
	r := NewRegistry()
	mustRegister(r, types.ArtifactTypeTranscriptSegment, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &TranscriptSegmentPayload{})
	})
	mustRegister(r, types.ArtifactTypeScene, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &ScenePayload{})
	})
	mustRegister(r, types.ArtifactTypeObjectDetection, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &ObjectDetectionPayload{})
	})
	mustRegister(r, types.ArtifactTypeFaceDetection, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &FaceDetectionPayload{})
	})
	mustRegister(r, types.ArtifactTypeOCRText, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &OCRTextPayload{})
	})
	mustRegister(r, types.ArtifactTypePlaceClassification, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &PlaceClassificationPayload{})
	})
	mustRegister(r, types.ArtifactTypeVideoMetadata, 1, func(raw json.RawMessage) (Payload, error) {
		return strictDecode(raw, &VideoMetadataPayload{})
	})
	r.Freeze()
	return r
}

func mustRegister(r *Registry, artifactType string, version int, dec Decoder) {
	if err := r.Register(artifactType, version, dec); err != nil {
		panic(err)
	}
}
