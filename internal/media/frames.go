package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"image"
	"iter"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// DefaultFallbackFPS is the sampling rate used when a video's frame rate is unreadable.
const DefaultFallbackFPS = 10.0

// DefaultJPEGQuality is the quality used to encode extracted frames.
const DefaultJPEGQuality = 80

// VideoInfo describes a probed video stream.
type VideoInfo struct {
	FrameRate float64
	Duration  time.Duration
	Width     int
	Height    int
}

// Decoder opens a video and yields decoded frames sampled at fps.
// The sequence must stop after the first error.
type Decoder interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	Frames(ctx context.Context, path string, fps float64) iter.Seq2[image.Image, error]
}

// Frame is one unique still extracted from a video.
type Frame struct {
	Index        int // position among unique frames
	Raw          []byte
	Preprocessed []byte
	Hash         [sha256.Size]byte
}

// ExtractorConfig tunes frame extraction.
type ExtractorConfig struct {
	FallbackFPS float64
	JPEGQuality int
	Metrics     *metrics.MediaMetrics
}

// FrameExtractor turns a video into a deduplicated frame sequence.
type FrameExtractor struct {
	decoder      Decoder
	preprocessor *Preprocessor
	config       ExtractorConfig
}

// NewFrameExtractor creates an extractor. Zero config values take the defaults.
func NewFrameExtractor(decoder Decoder, preprocessor *Preprocessor, config ExtractorConfig) *FrameExtractor {
	if config.FallbackFPS <= 0 {
		config.FallbackFPS = DefaultFallbackFPS
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = DefaultJPEGQuality
	}
	return &FrameExtractor{decoder: decoder, preprocessor: preprocessor, config: config}
}

// Probe returns stream information for path.
func (e *FrameExtractor) Probe(ctx context.Context, path string) (VideoInfo, error) {
	return e.decoder.Probe(ctx, path)
}

// Extract returns a lazy sequence of unique frames in source order. Each frame is
// JPEG encoded and hashed; a frame whose hash was already seen in this run is
// skipped. The sequence can be ranged over once; later ranges yield nothing.
// Open or decode failures end the sequence early and are only logged.
func (e *FrameExtractor) Extract(ctx context.Context, path string) iter.Seq[Frame] {
	return e.extract(ctx, path, nil)
}

// ExtractProbed is Extract for a video whose stream info the caller already
// probed. A zero FrameRate in info selects the fallback rate.
func (e *FrameExtractor) ExtractProbed(ctx context.Context, path string, info VideoInfo) iter.Seq[Frame] {
	return e.extract(ctx, path, &info)
}

func (e *FrameExtractor) extract(ctx context.Context, path string, info *VideoInfo) iter.Seq[Frame] {
	var consumed atomic.Bool
	return func(yield func(Frame) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}

		log := GetLogger().With(logger.String("path", path))
		var fps float64
		if info != nil {
			fps = e.fpsOf(*info)
		} else {
			fps = e.frameRate(ctx, path)
		}

		seen := make(map[[sha256.Size]byte]struct{})
		decoded, emitted := 0, 0
		defer func() {
			log.Debug("frame extraction finished",
				logger.Int("decoded", decoded),
				logger.Int("unique", emitted),
				logger.Float64("fps", fps))
		}()

		for img, err := range e.decoder.Frames(ctx, path, fps) {
			if err != nil {
				if decoded == 0 {
					e.config.Metrics.RecordExtractionFailure()
				}
				log.Warn("video decoding stopped", logger.Int("decoded", decoded), logger.Error(err))
				return
			}
			decoded++

			raw, err := encodeJPEG(img, e.config.JPEGQuality)
			if err != nil {
				log.Warn("failed to encode frame", logger.Int("frame", decoded-1), logger.Error(err))
				continue
			}

			sum := sha256.Sum256(raw)
			if _, dup := seen[sum]; dup {
				e.config.Metrics.RecordFrame(true)
				continue
			}
			seen[sum] = struct{}{}
			e.config.Metrics.RecordFrame(false)

			frame := Frame{
				Index:        emitted,
				Raw:          raw,
				Preprocessed: e.preprocessor.Tensor(img),
				Hash:         sum,
			}
			emitted++
			if !yield(frame) {
				return
			}
		}
	}
}

// frameRate returns the native frame rate or the fallback when unreadable.
func (e *FrameExtractor) frameRate(ctx context.Context, path string) float64 {
	info, err := e.decoder.Probe(ctx, path)
	if err != nil {
		GetLogger().Debug("frame rate unavailable, using fallback",
			logger.String("path", path),
			logger.Float64("fallback_fps", e.config.FallbackFPS),
			logger.Error(err))
		return e.config.FallbackFPS
	}
	return e.fpsOf(info)
}

func (e *FrameExtractor) fpsOf(info VideoInfo) float64 {
	if info.FrameRate <= 0 {
		return e.config.FallbackFPS
	}
	return info.FrameRate
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
