package producers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/videolens/videolens-backend/internal/types"
)

func tempVideoFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp video: %v", err)
	}
	return path
}

func TestStubDeterministicProvenance(t *testing.T) {
	path := tempVideoFile(t, "fake video bytes")
	p := NewStubProducer(types.TaskTypeObjectDetection)
	cfg := Config{FrameInterval: 5, ConfidenceThreshold: 0.5, ModelProfile: "balanced"}

	a, err := p.Process(context.Background(), path, cfg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	b, err := p.Process(context.Background(), path, cfg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if a.ConfigHash != b.ConfigHash {
		t.Fatalf("config hash not stable: %s vs %s", a.ConfigHash, b.ConfigHash)
	}
	if a.InputHash != b.InputHash {
		t.Fatalf("input hash not stable: %s vs %s", a.InputHash, b.InputHash)
	}
	if a.RunID == b.RunID {
		t.Fatalf("each invocation must mint a fresh run id")
	}
	if len(a.Detections) == 0 {
		t.Fatalf("stub object detection produced nothing")
	}
	if a.Detections[0].Label != b.Detections[0].Label {
		t.Fatalf("stub output not deterministic for the same path")
	}
}

func TestStubConfigChangesConfigHash(t *testing.T) {
	path := tempVideoFile(t, "fake video bytes")
	p := NewStubProducer(types.TaskTypeSceneDetection)

	a, err := p.Process(context.Background(), path, Config{FrameInterval: 5})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	b, err := p.Process(context.Background(), path, Config{FrameInterval: 10})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if a.ConfigHash == b.ConfigHash {
		t.Fatalf("config hash must change with frame_interval")
	}
	if a.InputHash != b.InputHash {
		t.Fatalf("input hash must not depend on config")
	}
}

func TestStubRegistryCoversAllProducingTypes(t *testing.T) {
	reg := NewStubRegistry()
	for _, tt := range producingTypes {
		if reg[tt] == nil {
			t.Fatalf("no producer bound for %s", tt)
		}
	}
	if reg[types.TaskTypeHash] != nil {
		t.Fatalf("hash is not an artifact producer")
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{
		"30/1":      30,
		"30000/1001": 29.97002997002997,
		"0/0":       0,
		"garbage":   0,
		"":          0,
	}
	for raw, want := range cases {
		got := parseFrameRate(raw)
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("parseFrameRate(%q) = %f, want %f", raw, got, want)
		}
	}
}

func TestParseCreationTime(t *testing.T) {
	tags := map[string]string{"creation_time": "2024-06-15T10:30:00.000000Z"}
	got := parseCreationTime(tags)
	if got == nil {
		t.Fatalf("creation_time not parsed")
	}
	want := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parsed %v, want %v", got, want)
	}
	if parseCreationTime(map[string]string{}) != nil {
		t.Fatalf("missing tags must yield nil")
	}
}

func TestParseLocationISO6709(t *testing.T) {
	lat, lon, alt, ok := parseLocation(map[string]string{
		"com.apple.quicktime.location.ISO6709": "+37.3349-122.0090+012.345/",
	})
	if !ok {
		t.Fatalf("ISO6709 location not parsed")
	}
	if lat != 37.3349 || lon != -122.0090 {
		t.Fatalf("got lat=%f lon=%f", lat, lon)
	}
	if alt != 12.345 {
		t.Fatalf("got alt=%f", alt)
	}

	if _, _, _, ok := parseLocation(map[string]string{"location": "+95.0000-122.0090/"}); ok {
		t.Fatalf("out-of-range latitude must be rejected")
	}
	if _, _, _, ok := parseLocation(map[string]string{}); ok {
		t.Fatalf("missing location must not parse")
	}
}

func TestParseObjectTracks(t *testing.T) {
	tracks := []*vipb.ObjectTrackingAnnotation{
		{
			Entity:     &vipb.Entity{Description: "dog"},
			Confidence: 0.9,
			TrackInfo: &vipb.ObjectTrackingAnnotation_Segment{
				Segment: &vipb.VideoSegment{
					StartTimeOffset: durationpb.New(2 * time.Second),
					EndTimeOffset:   durationpb.New(4 * time.Second),
				},
			},
		},
		{Entity: &vipb.Entity{Description: "blur"}, Confidence: 0.1},
		nil,
	}

	out := parseObjectTracks(tracks, 0.5)
	if len(out) != 1 {
		t.Fatalf("expected 1 detection past the threshold, got %d", len(out))
	}
	det := out[0]
	if det.Label != "dog" || det.Confidence < 0.89 || det.Confidence > 0.91 {
		t.Fatalf("detection fields wrong: %+v", det)
	}
	if det.TimestampMS != 2_000 || det.EndMS != 4_000 {
		t.Fatalf("segment offsets not mapped: %+v", det)
	}
}

func TestGroupWordsByTime(t *testing.T) {
	words := []speechWord{
		{word: "hello", start: 0, end: 400, conf: 0.9},
		{word: "world", start: 500, end: 900, conf: 0.8},
		{word: "later", start: 12_000, end: 12_400, conf: 0.7},
	}
	segs := groupWordsByTime(words, 10_000, "en-US")
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "hello world" {
		t.Fatalf("first segment text %q", segs[0].Text)
	}
	if segs[0].StartMS != 0 || segs[0].EndMS != 900 {
		t.Fatalf("first segment span [%d,%d]", segs[0].StartMS, segs[0].EndMS)
	}
	if segs[1].Text != "later" || segs[1].StartMS != 12_000 {
		t.Fatalf("second segment %+v", segs[1])
	}
	if segs[0].Confidence == nil || *segs[0].Confidence < 0.84 || *segs[0].Confidence > 0.86 {
		t.Fatalf("confidence should average words, got %v", segs[0].Confidence)
	}
	if len(segs[0].Words) != 2 {
		t.Fatalf("word offsets not carried: %d", len(segs[0].Words))
	}
}
