package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"image"
	"image/color"
	"image/png"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ecosort/internal/observability/metrics"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDecoder replays a fixed list of frames.
type fakeDecoder struct {
	info      VideoInfo
	probeErr  error
	frames    []image.Image
	failAt    int // yield an error at this index, -1 for never
	gotFPS    float64
	delivered int
	probes    int
}

func (d *fakeDecoder) Probe(context.Context, string) (VideoInfo, error) {
	d.probes++
	return d.info, d.probeErr
}

func (d *fakeDecoder) Frames(ctx context.Context, _ string, fps float64) iter.Seq2[image.Image, error] {
	d.gotFPS = fps
	return func(yield func(image.Image, error) bool) {
		for i, f := range d.frames {
			if i == d.failAt {
				yield(nil, errors.New("corrupt stream"))
				return
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			d.delivered++
			if !yield(f, nil) {
				return
			}
		}
	}
}

func palette(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range n {
		out[i] = solidImage(16, 16, color.NRGBA{R: uint8(i * 23), G: uint8(255 - i*17), B: uint8(i * 7), A: 255})
	}
	return out
}

func TestPreprocessSizeAndDeterminism(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(32, 24, nil)
	raw := encodePNG(t, solidImage(100, 50, color.NRGBA{R: 10, G: 200, B: 30, A: 255}))

	first, err := p.Preprocess(raw)
	require.NoError(t, err)
	second, err := p.Preprocess(raw)
	require.NoError(t, err)

	assert.Len(t, first, 32*24*3*4)
	assert.Equal(t, p.TensorSize(), len(first))
	assert.Equal(t, first, second, "preprocessing must be deterministic")
}

func TestPreprocessChannelValues(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(4, 4, nil)
	// Semi-transparent red: alpha is dropped, not blended.
	tensor := p.Tensor(solidImage(8, 8, color.NRGBA{R: 255, G: 0, B: 51, A: 128}))

	values := DecodeTensor(tensor)
	require.Len(t, values, 4*4*3)
	for i := 0; i < len(values); i += 3 {
		assert.InDelta(t, 1.0, values[i], 0.01)
		assert.InDelta(t, 0.0, values[i+1], 0.01)
		assert.InDelta(t, 0.2, values[i+2], 0.01)
	}
	for _, v := range values {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := NewPreprocessor(0, 0, nil).Preprocess([]byte("not an image"))
	require.Error(t, err)
}

func TestNewPreprocessorDefaults(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(0, -1, nil)
	assert.Equal(t, DefaultInputWidth*DefaultInputHeight*3*4, p.TensorSize())
}

func TestExtractDeduplicatesFrames(t *testing.T) {
	t.Parallel()
	unique := palette(7)
	// 10 sampled frames, three of them bit-identical to earlier ones.
	frames := []image.Image{
		unique[0], unique[1], unique[1], unique[2], unique[3],
		unique[0], unique[4], unique[5], unique[5], unique[6],
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.NewMediaMetrics(registry)
	require.NoError(t, err)

	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30}, frames: frames, failAt: -1}
	ex := NewFrameExtractor(dec, NewPreprocessor(8, 8, nil), ExtractorConfig{Metrics: m})

	var got []Frame
	for f := range ex.Extract(t.Context(), "clip.mp4") {
		got = append(got, f)
	}

	require.Len(t, got, 7)
	hashes := make(map[[sha256.Size]byte]struct{})
	for i, f := range got {
		assert.Equal(t, i, f.Index)
		assert.Len(t, f.Preprocessed, 8*8*3*4)
		assert.Equal(t, sha256.Sum256(f.Raw), f.Hash)
		_, dup := hashes[f.Hash]
		assert.False(t, dup, "frame %d repeats an earlier hash", i)
		hashes[f.Hash] = struct{}{}
	}
	assert.InDelta(t, 30, dec.gotFPS, 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.FramesDecoded), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.FramesDeduplicated), 0)
}

func TestExtractKeepsTemporalOrder(t *testing.T) {
	t.Parallel()
	frames := palette(4)
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 25}, frames: frames, failAt: -1}
	ex := NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})

	var got []Frame
	for f := range ex.Extract(t.Context(), "clip.mp4") {
		got = append(got, f)
	}
	require.Len(t, got, 4)
	for i, f := range got {
		want, err := encodeJPEG(frames[i], DefaultJPEGQuality)
		require.NoError(t, err)
		assert.Equal(t, want, f.Raw)
	}
}

func TestExtractFallsBackToDefaultFPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dec  *fakeDecoder
	}{
		{"probe error", &fakeDecoder{probeErr: errors.New("no ffprobe"), frames: palette(1), failAt: -1}},
		{"zero rate", &fakeDecoder{info: VideoInfo{FrameRate: 0}, frames: palette(1), failAt: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex := NewFrameExtractor(tt.dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})
			for range ex.Extract(t.Context(), "clip.mp4") {
			}
			assert.InDelta(t, DefaultFallbackFPS, tt.dec.gotFPS, 0)
		})
	}
}

func TestExtractUndecodableVideoIsEmpty(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30}, frames: palette(3), failAt: 0}
	ex := NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})

	count := 0
	for range ex.Extract(t.Context(), "broken.mp4") {
		count++
	}
	assert.Zero(t, count)
}

func TestExtractStopsAtMidStreamError(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30}, frames: palette(5), failAt: 3}
	ex := NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})

	count := 0
	for range ex.Extract(t.Context(), "truncated.mp4") {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestExtractIsNotRestartable(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30}, frames: palette(3), failAt: -1}
	ex := NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})
	seq := ex.Extract(t.Context(), "clip.mp4")

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 3, first)
	assert.Zero(t, second)
}

func TestExtractStopsDecodingOnBreak(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30}, frames: palette(6), failAt: -1}
	ex := NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{})

	for range ex.Extract(t.Context(), "clip.mp4") {
		break
	}
	assert.Equal(t, 1, dec.delivered)
}

func TestParseRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseRate(tt.in), 1e-6, "rate %q", tt.in)
	}
}

func TestParseProbeOutput(t *testing.T) {
	t.Parallel()
	out := []byte(`{"streams":[{"width":1920,"height":1080,"r_frame_rate":"0/0","avg_frame_rate":"24/1"}],"format":{"duration":"12.500000"}}`)
	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 24, info.FrameRate, 0)
	assert.Equal(t, 12500*time.Millisecond, info.Duration)

	_, err = parseProbeOutput([]byte(`{"streams":[]}`))
	assert.Error(t, err)
}

func TestCaptureImagesSkipsUnusableFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "bottle.png")
	bad := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(good, encodePNG(t, solidImage(10, 10, color.White)), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("hello"), 0o600))

	c := NewCapturer(NewPreprocessor(4, 4, nil), nil)
	items, err := c.CaptureImages(t.Context(), []string{good, bad, filepath.Join(dir, "missing.jpg")})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, good, items[0].Source)
	assert.Len(t, items[0].Preprocessed, 4*4*3*4)
}

func TestCaptureVideo(t *testing.T) {
	t.Parallel()
	frames := palette(3)
	dec := &fakeDecoder{info: VideoInfo{FrameRate: 30, Duration: 2 * time.Second}, frames: append(frames, frames[0]), failAt: -1}
	c := NewCapturer(NewPreprocessor(4, 4, nil), NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{}))

	items, info, err := c.CaptureVideo(t.Context(), "/tmp/clip.mp4")
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "clip.mp4#0", items[0].Source)
	assert.Equal(t, 2*time.Second, info.Duration)
	assert.Equal(t, 1, dec.probes, "video is probed once per capture")
	assert.InDelta(t, 30, dec.gotFPS, 0)
}

func TestCaptureVideoProbeFailureUsesFallback(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{probeErr: errors.New("no stream"), frames: palette(2), failAt: -1}
	c := NewCapturer(NewPreprocessor(4, 4, nil), NewFrameExtractor(dec, NewPreprocessor(4, 4, nil), ExtractorConfig{FallbackFPS: 5}))

	items, info, err := c.CaptureVideo(t.Context(), "clip.mp4")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Zero(t, info.Duration)
	assert.Equal(t, 1, dec.probes)
	assert.InDelta(t, 5, dec.gotFPS, 0)
}

func TestCaptureVideoWithoutExtractor(t *testing.T) {
	t.Parallel()
	_, _, err := NewCapturer(NewPreprocessor(4, 4, nil), nil).CaptureVideo(t.Context(), "clip.mp4")
	assert.Error(t, err)
}
