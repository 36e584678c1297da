package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
)

// Item is one captured still with its raw and tensor bytes.
type Item struct {
	Source       string // file path or frame label, informational only
	Raw          []byte
	Preprocessed []byte
}

// Capturer builds capture items from image files and videos.
type Capturer struct {
	preprocessor *Preprocessor
	extractor    *FrameExtractor
}

// NewCapturer returns a capturer. extractor may be nil when videos are not used.
func NewCapturer(preprocessor *Preprocessor, extractor *FrameExtractor) *Capturer {
	return &Capturer{preprocessor: preprocessor, extractor: extractor}
}

// CaptureImages reads and preprocesses photos in the given order. Files that
// cannot be read or decoded are skipped and logged. An empty result is not an
// error here; callers reject it before creating a session.
func (c *Capturer) CaptureImages(ctx context.Context, paths []string) ([]Item, error) {
	items := make([]Item, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		raw, err := os.ReadFile(path) //nolint:gosec // G304: paths supplied by the user
		if err != nil {
			GetLogger().Warn("skipping unreadable image", logger.String("path", path), logger.Error(err))
			continue
		}
		tensor, err := c.preprocessor.Preprocess(raw)
		if err != nil {
			GetLogger().Warn("skipping undecodable image", logger.String("path", path), logger.Error(err))
			continue
		}
		items = append(items, Item{Source: path, Raw: raw, Preprocessed: tensor})
	}

	GetLogger().Debug("images captured",
		logger.Int("requested", len(paths)),
		logger.Int("usable", len(items)))
	return items, nil
}

// CaptureVideo extracts unique frames from a video. Info carries the probed
// duration when available.
func (c *Capturer) CaptureVideo(ctx context.Context, path string) ([]Item, VideoInfo, error) {
	if c.extractor == nil {
		return nil, VideoInfo{}, errors.Newf("video capture is not configured").
			Component("media").
			Category(errors.CategoryConfiguration).
			Build()
	}

	info, err := c.extractor.Probe(ctx, path)
	if err != nil {
		GetLogger().Debug("video probe failed", logger.String("path", path), logger.Error(err))
	}

	base := filepath.Base(path)
	var items []Item
	for frame := range c.extractor.ExtractProbed(ctx, path, info) {
		items = append(items, Item{
			Source:       fmt.Sprintf("%s#%d", base, frame.Index),
			Raw:          frame.Raw,
			Preprocessed: frame.Preprocessed,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, info, cancelled(err)
	}
	return items, info, nil
}

func cancelled(err error) error {
	return errors.New(err).
		Component("media").
		Category(errors.CategoryCancellation).
		Build()
}
