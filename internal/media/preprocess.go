// Package media turns captured photos and videos into classification inputs.
package media

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// Default model input size.
const (
	DefaultInputWidth  = 256
	DefaultInputHeight = 256
)

// bytesPerValue is the size of one float32 tensor element.
const bytesPerValue = 4

// Preprocessor converts still images into flat RGB float32 tensors.
type Preprocessor struct {
	width   int
	height  int
	metrics *metrics.MediaMetrics
}

// NewPreprocessor returns a preprocessor for a width×height model input.
// Non-positive sizes fall back to the defaults.
func NewPreprocessor(width, height int, m *metrics.MediaMetrics) *Preprocessor {
	if width <= 0 {
		width = DefaultInputWidth
	}
	if height <= 0 {
		height = DefaultInputHeight
	}
	return &Preprocessor{width: width, height: height, metrics: m}
}

// TensorSize is the byte length of every tensor this preprocessor produces.
func (p *Preprocessor) TensorSize() int {
	return p.width * p.height * 3 * bytesPerValue
}

// Preprocess decodes encoded image bytes and returns the tensor buffer.
func (p *Preprocessor) Preprocess(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryMediaDecode).
			Context("operation", "decode_image").
			Context("size", len(raw)).
			Build()
	}
	return p.Tensor(img), nil
}

// Tensor stretches img to the target size and writes channel-interleaved RGB
// values in [0,1] as little-endian float32. Alpha is dropped.
func (p *Preprocessor) Tensor(img image.Image) []byte {
	start := time.Now()
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)

	out := make([]byte, p.TensorSize())
	off := 0
	for y := range p.height {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+p.width*4]
		for x := 0; x < len(row); x += 4 {
			for c := range 3 {
				v := float32(row[x+c]) / 255.0
				binary.LittleEndian.PutUint32(out[off:], math.Float32bits(v))
				off += bytesPerValue
			}
		}
	}

	p.metrics.ObservePreprocess(time.Since(start).Seconds())
	return out
}

// DecodeTensor reads a tensor buffer back into float32 values.
func DecodeTensor(buf []byte) []float32 {
	out := make([]float32, len(buf)/bytesPerValue)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerValue:]))
	}
	return out
}
