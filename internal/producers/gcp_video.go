package producers

import (
	"context"
	"fmt"
	"os"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
)

const (
	VideoModeObjects = "objects"
	VideoModeScenes  = "scenes"
	VideoModePlaces  = "places"

	// Inline video uploads are capped well below the API hard limit.
	maxInlineVideoBytes = 512 << 20
)

// VideoIntelligenceProducer runs one Video Intelligence feature per mode:
// object tracking, shot change detection, or label detection (mapped to place
// classifications).
type VideoIntelligenceProducer struct {
	log        *logger.Logger
	client     *videointelligence.Client
	mode       string
	maxRetries int
}

func NewVideoIntelligenceProducer(baseLog *logger.Logger, mode string) (*VideoIntelligenceProducer, error) {
	switch mode {
	case VideoModeObjects, VideoModeScenes, VideoModePlaces:
	default:
		return nil, fmt.Errorf("unknown video intelligence mode %q", mode)
	}
	client, err := videointelligence.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}
	return &VideoIntelligenceProducer{
		log:        baseLog.With("service", "gcp.VideoIntelligence", "mode", mode),
		client:     client,
		mode:       mode,
		maxRetries: 4,
	}, nil
}

func (p *VideoIntelligenceProducer) Name() string    { return "gcp_videointelligence_" + p.mode }
func (p *VideoIntelligenceProducer) Version() string { return "1.0.0" }

func (p *VideoIntelligenceProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *VideoIntelligenceProducer) Process(ctx context.Context, videoPath string, cfg Config) (*Result, error) {
	res, err := newResult(p.Name(), p.Version(), videoPath, cfg)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(videoPath)
	if err != nil {
		return nil, apperr.Fatalf("video_read", "read %s: %v", videoPath, err)
	}
	if len(content) > maxInlineVideoBytes {
		return nil, apperr.Validationf("video_too_large", "%s is %d bytes, inline annotation caps at %d", videoPath, len(content), maxInlineVideoBytes)
	}

	var feature vipb.Feature
	switch p.mode {
	case VideoModeObjects:
		feature = vipb.Feature_OBJECT_TRACKING
	case VideoModeScenes:
		feature = vipb.Feature_SHOT_CHANGE_DETECTION
	case VideoModePlaces:
		feature = vipb.Feature_LABEL_DETECTION
	}
	req := &vipb.AnnotateVideoRequest{
		InputContent: content,
		Features:     []vipb.Feature{feature},
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	var resp *vipb.AnnotateVideoResponse
	err = retryGRPC(ctx, p.maxRetries, func() error {
		op, err := p.client.AnnotateVideo(ctx, req)
		if err != nil {
			return err
		}
		resp, err = op.Wait(ctx)
		return err
	})
	if err != nil {
		return nil, apperr.Transientf("annotate_video", "videointelligence AnnotateVideo: %v", err)
	}
	if resp == nil || len(resp.AnnotationResults) == 0 || resp.AnnotationResults[0] == nil {
		p.log.Warn("no annotation results", "video_path", videoPath)
		return res, nil
	}
	ar := resp.AnnotationResults[0]

	switch p.mode {
	case VideoModeObjects:
		res.Detections = parseObjectTracks(ar.ObjectAnnotations, cfg.ConfidenceThreshold)
	case VideoModeScenes:
		res.Scenes = parseShotSegments(ar.ShotAnnotations)
	case VideoModePlaces:
		res.Classifications = parsePlaceLabels(ar.SegmentLabelAnnotations, cfg.ConfidenceThreshold)
	}
	return res, nil
}

func parseObjectTracks(tracks []*vipb.ObjectTrackingAnnotation, minConfidence float64) []Detection {
	out := []Detection{}
	for _, tr := range tracks {
		if tr == nil || tr.Entity == nil || tr.Entity.Description == "" {
			continue
		}
		conf := float64(tr.Confidence)
		if conf < minConfidence {
			continue
		}
		det := Detection{
			Label:      tr.Entity.Description,
			Confidence: clamp01(conf),
		}
		// track_info is a protobuf oneof; the getter returns nil for the
		// track-id variant.
		if seg := tr.GetSegment(); seg != nil {
			det.TimestampMS = durToMS(seg.StartTimeOffset)
			det.EndMS = durToMS(seg.EndTimeOffset)
		}
		if len(tr.Frames) > 0 && tr.Frames[0] != nil {
			if box := tr.Frames[0].NormalizedBoundingBox; box != nil {
				det.BBox = bboxFromNormalized(box)
			}
		}
		out = append(out, det)
	}
	return out
}

func parseShotSegments(shots []*vipb.VideoSegment) []Scene {
	out := make([]Scene, 0, len(shots))
	for i, sh := range shots {
		if sh == nil {
			continue
		}
		out = append(out, Scene{
			SceneIndex: i,
			StartMS:    durToMS(sh.StartTimeOffset),
			EndMS:      durToMS(sh.EndTimeOffset),
		})
	}
	return out
}

func parsePlaceLabels(labels []*vipb.LabelAnnotation, minConfidence float64) []Classification {
	out := []Classification{}
	for _, la := range labels {
		if la == nil || la.Entity == nil || la.Entity.Description == "" {
			continue
		}
		for _, seg := range la.Segments {
			if seg == nil || seg.Segment == nil {
				continue
			}
			conf := float64(seg.Confidence)
			if conf < minConfidence {
				continue
			}
			out = append(out, Classification{
				TimestampMS: durToMS(seg.Segment.StartTimeOffset),
				EndMS:       durToMS(seg.Segment.EndTimeOffset),
				Predictions: []Prediction{{Label: la.Entity.Description, Confidence: clamp01(conf)}},
			})
		}
	}
	return out
}
