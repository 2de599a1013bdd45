package producers

import (
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
)

// MetadataProducer shells out to ffprobe and maps the container metadata into
// a video.metadata payload. Creation time and GPS tags are best effort; their
// absence is not an error.
type MetadataProducer struct {
	ffprobePath string
}

func NewMetadataProducer(ffprobePath string) *MetadataProducer {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &MetadataProducer{ffprobePath: ffprobePath}
}

func (p *MetadataProducer) Name() string    { return "ffprobe_metadata" }
func (p *MetadataProducer) Version() string { return "1.0.0" }

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

func (p *MetadataProducer) Process(ctx context.Context, videoPath string, cfg Config) (*Result, error) {
	res, err := newResult(p.Name(), p.Version(), videoPath, cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, apperr.Transientf("ffprobe_failed", "ffprobe on %s: %v", videoPath, err)
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, apperr.Fatalf("ffprobe_parse", "parse ffprobe output for %s: %v", videoPath, err)
	}

	payload := &schema.VideoMetadataPayload{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			payload.DurationSeconds = &d
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		payload.Width = s.Width
		payload.Height = s.Height
		payload.Codec = s.CodecName
		payload.FrameRate = parseFrameRate(s.AvgFrameRate)
		break
	}
	if created := parseCreationTime(probe.Format.Tags); created != nil {
		payload.CreateDate = created
	}
	if lat, lon, alt, ok := parseLocation(probe.Format.Tags); ok {
		payload.Latitude = &lat
		payload.Longitude = &lon
		if alt != 0 {
			payload.Altitude = &alt
		}
	}
	res.Metadata = payload
	return res, nil
}

func parseFrameRate(raw string) float64 {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseCreationTime(tags map[string]string) *time.Time {
	for _, key := range []string{"creation_time", "com.apple.quicktime.creationdate", "date"} {
		raw, ok := tags[key]
		if !ok || raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, raw); err == nil {
				utc := t.UTC()
				return &utc
			}
		}
	}
	return nil
}

// iso6709 matches strings like "+37.3349-122.0090+012.345/" from QuickTime
// location tags.
var iso6709 = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)?`)

func parseLocation(tags map[string]string) (lat, lon, alt float64, ok bool) {
	for _, key := range []string{"location", "com.apple.quicktime.location.ISO6709"} {
		raw, present := tags[key]
		if !present {
			continue
		}
		m := iso6709.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			continue
		}
		var err error
		if lat, err = strconv.ParseFloat(m[1], 64); err != nil {
			continue
		}
		if lon, err = strconv.ParseFloat(m[2], 64); err != nil {
			continue
		}
		if m[3] != "" {
			alt, _ = strconv.ParseFloat(m[3], 64)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			continue
		}
		return lat, lon, alt, true
	}
	return 0, 0, 0, false
}
