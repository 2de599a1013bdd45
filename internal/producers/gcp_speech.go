package producers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/logger"
)

// SpeechProducer extracts the audio track with ffmpeg and transcribes it via
// Cloud Speech with word time offsets. Words are grouped into ~10s segments.
type SpeechProducer struct {
	log        *logger.Logger
	client     *speech.Client
	ffmpegPath string
	maxRetries int
}

func NewSpeechProducer(baseLog *logger.Logger, ffmpegPath string) (*SpeechProducer, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	client, err := speech.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &SpeechProducer{
		log:        baseLog.With("service", "gcp.Speech"),
		client:     client,
		ffmpegPath: ffmpegPath,
		maxRetries: 4,
	}, nil
}

func (p *SpeechProducer) Name() string    { return "gcp_speech" }
func (p *SpeechProducer) Version() string { return "1.0.0" }

func (p *SpeechProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *SpeechProducer) Process(ctx context.Context, videoPath string, cfg Config) (*Result, error) {
	res, err := newResult(p.Name(), p.Version(), videoPath, cfg)
	if err != nil {
		return nil, err
	}

	audio, err := p.extractAudio(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		// Video has no audio track; an empty transcript is a valid outcome.
		p.log.Info("no audio extracted", "video_path", videoPath)
		return res, nil
	}

	language := cfg.Language
	if language == "" {
		language = "en-US"
	}
	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_FLAC,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               language,
			Model:                      cfg.ModelName,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			EnableWordConfidence:       true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	var resp *speechpb.LongRunningRecognizeResponse
	err = retryGRPC(ctx, p.maxRetries, func() error {
		op, err := p.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return err
		}
		resp, err = op.Wait(ctx)
		return err
	})
	if err != nil {
		return nil, apperr.Transientf("speech_recognize", "speech LongRunningRecognize: %v", err)
	}

	res.Segments = parseSpeechResults(resp, cfg.Language)
	return res, nil
}

// extractAudio transcodes the audio track to 16kHz mono FLAC in a temp file
// and returns its bytes. A video without audio yields nil, not an error.
func (p *SpeechProducer) extractAudio(ctx context.Context, videoPath string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "audio-*.flac")
	if err != nil {
		return nil, apperr.Fatalf("tempfile", "create temp audio file: %v", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "flac",
		tmpPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "does not contain any stream") ||
			strings.Contains(string(out), "Output file does not contain any stream") {
			return nil, nil
		}
		return nil, apperr.Transientf("ffmpeg_audio", "ffmpeg audio extraction for %s: %v", filepath.Base(videoPath), err)
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, apperr.Fatalf("audio_read", "read extracted audio: %v", err)
	}
	return data, nil
}

type speechWord struct {
	word  string
	start int64
	end   int64
	conf  float64
}

func parseSpeechResults(resp *speechpb.LongRunningRecognizeResponse, language string) []Segment {
	if resp == nil {
		return nil
	}
	words := []speechWord{}
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if len(alt.Words) == 0 {
			words = append(words, speechWord{
				word: strings.TrimSpace(alt.Transcript),
				conf: float64(alt.Confidence),
			})
			continue
		}
		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, speechWord{
				word:  w.Word,
				start: durToMS(w.StartTime),
				end:   durToMS(w.EndTime),
				conf:  float64(w.Confidence),
			})
		}
	}
	return groupWordsByTime(words, 10_000, language)
}

// groupWordsByTime flushes a segment whenever the window fills.
func groupWordsByTime(words []speechWord, windowMS int64, language string) []Segment {
	if len(words) == 0 {
		return nil
	}
	segs := []Segment{}
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder
	var segWords []schema.Word
	var confSum float64
	var confN int

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		seg := Segment{
			StartMS:  curStart,
			EndMS:    curEnd,
			Text:     text,
			Words:    segWords,
			Language: language,
		}
		if confN > 0 {
			avg := clamp01(confSum / float64(confN))
			seg.Confidence = &avg
		}
		segs = append(segs, seg)
		buf.Reset()
		segWords = nil
		confSum = 0
		confN = 0
	}

	for _, w := range words {
		if w.start-curStart >= windowMS && buf.Len() > 0 {
			flush()
			curStart = w.start
			curEnd = w.end
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.word)
		segWords = append(segWords, schema.Word{
			Word:       w.word,
			StartMS:    w.start,
			EndMS:      w.end,
			Confidence: clamp01(w.conf),
		})
		if w.end > curEnd {
			curEnd = w.end
		}
		if w.conf > 0 {
			confSum += w.conf
			confN++
		}
	}
	flush()
	return segs
}
