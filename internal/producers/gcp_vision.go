package producers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/logger"
)

const (
	VisionModeOCR   = "ocr"
	VisionModeFaces = "faces"
)

// VisionFrameProducer samples frames with ffmpeg at the configured interval
// and annotates each with Cloud Vision. OCR mode emits on-screen text, faces
// mode emits face detections keyed by a per-video cluster index.
type VisionFrameProducer struct {
	log        *logger.Logger
	client     *vision.ImageAnnotatorClient
	mode       string
	ffmpegPath string
	maxRetries int
}

func NewVisionFrameProducer(baseLog *logger.Logger, mode, ffmpegPath string) (*VisionFrameProducer, error) {
	switch mode {
	case VisionModeOCR, VisionModeFaces:
	default:
		return nil, fmt.Errorf("unknown vision mode %q", mode)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	client, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionFrameProducer{
		log:        baseLog.With("service", "gcp.Vision", "mode", mode),
		client:     client,
		mode:       mode,
		ffmpegPath: ffmpegPath,
		maxRetries: 4,
	}, nil
}

func (p *VisionFrameProducer) Name() string    { return "gcp_vision_" + p.mode }
func (p *VisionFrameProducer) Version() string { return "1.0.0" }

func (p *VisionFrameProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *VisionFrameProducer) Process(ctx context.Context, videoPath string, cfg Config) (*Result, error) {
	res, err := newResult(p.Name(), p.Version(), videoPath, cfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = 5
	}
	frames, cleanup, err := p.extractFrames(ctx, videoPath, interval)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if len(frames) == 0 {
		p.log.Warn("no frames extracted", "video_path", videoPath)
		return res, nil
	}

	feature := visionpb.Feature_DOCUMENT_TEXT_DETECTION
	if p.mode == VisionModeFaces {
		feature = visionpb.Feature_FACE_DETECTION
	}

	clusterSeq := 0
	for idx, framePath := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := os.ReadFile(framePath)
		if err != nil {
			return nil, apperr.Fatalf("frame_read", "read frame %s: %v", framePath, err)
		}

		var resp *visionpb.BatchAnnotateImagesResponse
		callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		err = retryGRPC(callCtx, p.maxRetries, func() error {
			var callErr error
			resp, callErr = p.client.BatchAnnotateImages(callCtx, &visionpb.BatchAnnotateImagesRequest{
				Requests: []*visionpb.AnnotateImageRequest{{
					Image:    &visionpb.Image{Content: img},
					Features: []*visionpb.Feature{{Type: feature}},
				}},
			})
			return callErr
		})
		cancel()
		if err != nil {
			return nil, apperr.Transientf("vision_annotate", "vision BatchAnnotateImages: %v", err)
		}
		if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
			continue
		}
		r0 := resp.Responses[0]
		if r0.Error != nil && r0.Error.Message != "" {
			return nil, apperr.Transientf("vision_annotate", "vision annotate error: %s", r0.Error.Message)
		}

		tsMS := int64(idx) * int64(interval) * 1000
		endMS := tsMS + int64(interval)*1000
		switch p.mode {
		case VisionModeOCR:
			if det, ok := ocrDetection(r0, idx, tsMS, endMS, cfg.ConfidenceThreshold); ok {
				res.Detections = append(res.Detections, det)
			}
		case VisionModeFaces:
			for _, fa := range r0.FaceAnnotations {
				if fa == nil {
					continue
				}
				conf := clamp01(float64(fa.DetectionConfidence))
				if conf < cfg.ConfidenceThreshold {
					continue
				}
				res.Detections = append(res.Detections, Detection{
					FrameIndex:  idx,
					TimestampMS: tsMS,
					EndMS:       endMS,
					ClusterID:   fmt.Sprintf("face_%d", clusterSeq),
					Confidence:  conf,
					BBox:        bboxFromVertices(fa.BoundingPoly),
				})
				clusterSeq++
			}
		}
	}
	return res, nil
}

func ocrDetection(r0 *visionpb.AnnotateImageResponse, frameIdx int, tsMS, endMS int64, minConfidence float64) (Detection, bool) {
	fta := r0.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return Detection{}, false
	}
	text := strings.Join(strings.Fields(fta.Text), " ")
	conf := 0.0
	if len(fta.Pages) > 0 && fta.Pages[0] != nil {
		var sum float64
		n := 0
		for _, b := range fta.Pages[0].Blocks {
			if b != nil && b.Confidence > 0 {
				sum += float64(b.Confidence)
				n++
			}
		}
		if n > 0 {
			conf = clamp01(sum / float64(n))
		}
	}
	if conf > 0 && conf < minConfidence {
		return Detection{}, false
	}
	return Detection{
		FrameIndex:  frameIdx,
		TimestampMS: tsMS,
		EndMS:       endMS,
		Label:       text,
		Confidence:  conf,
	}, true
}

func bboxFromVertices(bp *visionpb.BoundingPoly) *schema.BBox {
	if bp == nil || len(bp.Vertices) < 2 {
		return nil
	}
	minX, minY := float64(bp.Vertices[0].X), float64(bp.Vertices[0].Y)
	maxX, maxY := minX, minY
	for _, v := range bp.Vertices[1:] {
		if v == nil {
			continue
		}
		x, y := float64(v.X), float64(v.Y)
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return &schema.BBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// extractFrames writes one JPEG per interval into a temp dir and returns the
// paths ordered by frame index.
func (p *VisionFrameProducer) extractFrames(ctx context.Context, videoPath string, intervalSec int) ([]string, func(), error) {
	dir, err := os.MkdirTemp("", "frames-")
	if err != nil {
		return nil, func() {}, apperr.Fatalf("tempdir", "create frame dir: %v", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-q:v", "3",
		filepath.Join(dir, "frame_%06d.jpg"),
	)
	if _, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return nil, func() {}, apperr.Transientf("ffmpeg_frames", "ffmpeg frame extraction for %s: %v", filepath.Base(videoPath), err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		cleanup()
		return nil, func() {}, apperr.Fatalf("frame_list", "list frames: %v", err)
	}
	frames := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, cleanup, nil
}
