package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/media"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// Interpreter runs one forward pass of a loaded model. It is not safe for
// concurrent use.
type Interpreter interface {
	// InputLen is the number of float32 values the input tensor holds.
	InputLen() int
	// Invoke copies input into the model, runs it and returns the output vector.
	Invoke(input []float32) ([]float32, error)
	Close()
}

// LocalClassifier implements LocalEngine on top of an Interpreter.
type LocalClassifier struct {
	mu      sync.Mutex
	interp  Interpreter
	version string
	classes []Class
	metrics *metrics.ClassifierMetrics
}

// NewLocalClassifier wraps interp. classes is the label catalog of the model
// version; its length must match the model output.
func NewLocalClassifier(interp Interpreter, version string, classes []Class, m *metrics.ClassifierMetrics) *LocalClassifier {
	m.SetModelLoaded(true)
	return &LocalClassifier{
		interp:  interp,
		version: version,
		classes: classes,
		metrics: m,
	}
}

// Version returns the model version string.
func (c *LocalClassifier) Version() string {
	return c.version
}

// Classify runs the model on a tensor buffer and picks the highest-scoring
// class. Calls are serialized.
func (c *LocalClassifier) Classify(ctx context.Context, tensor []byte) (Class, error) {
	if err := ctx.Err(); err != nil {
		return Class{}, err
	}

	input := media.DecodeTensor(tensor)

	c.mu.Lock()
	if c.interp == nil {
		c.mu.Unlock()
		return Class{}, inferenceError(fmt.Errorf("%w: interpreter is closed", ErrInference), c.version)
	}
	if want := c.interp.InputLen(); len(input) != want {
		c.mu.Unlock()
		return Class{}, inferenceError(fmt.Errorf("%w: input tensor has %d values, model expects %d", ErrInference, len(input), want), c.version)
	}
	start := time.Now()
	output, err := c.interp.Invoke(input)
	elapsed := time.Since(start)
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordInference(c.version, 0, err)
		return Class{}, inferenceError(fmt.Errorf("%w: %w", ErrInference, err), c.version)
	}

	if len(output) != len(c.classes) {
		err := fmt.Errorf("%w: model returned %d scores for %d known classes", ErrInvalidClassification, len(output), len(c.classes))
		c.metrics.RecordInference(c.version, 0, err)
		return Class{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryInference).
			ModelContext("", c.version).
			Build()
	}

	c.metrics.RecordInference(c.version, elapsed.Seconds(), nil)
	idx := Argmax(output)
	for _, cls := range c.classes {
		if cls.Index == idx {
			return cls, nil
		}
	}
	// Catalog indices do not cover the winning slot.
	return Class{}, errors.New(fmt.Errorf("%w: no class with index %d", ErrInvalidClassification, idx)).
		Component("classifier").
		Category(errors.CategoryInference).
		ModelContext("", c.version).
		Build()
}

// Close releases the interpreter.
func (c *LocalClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interp != nil {
		c.interp.Close()
		c.interp = nil
		c.metrics.SetModelLoaded(false)
		GetLogger().Debug("local classifier closed", logger.String("version", c.version))
	}
	return nil
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index. An empty slice returns -1.
func Argmax(values []float32) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

func inferenceError(err error, version string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryInference).
		ModelContext("", version).
		Build()
}
