// Package tflite loads on-device TensorFlow Lite classification models.
package tflite

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/ecosort/internal/cpuspec"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
)

var (
	tfliteLogger logger.Logger
	loggerOnce   sync.Once
)

// GetLogger returns the tflite module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		tfliteLogger = logger.Global().Module("classifier.tflite")
	})
	return tfliteLogger
}

// Interpreter wraps a TFLite interpreter with a single float32 input tensor
// and a single float32 output vector. It is not safe for concurrent use;
// classifier.LocalClassifier serializes calls.
type Interpreter struct {
	model    *tflite.Model
	options  *tflite.InterpreterOptions
	interp   *tflite.Interpreter
	inputLen int
}

// Load reads the model at path and allocates its tensors. threads <= 0 picks
// a count from the CPU layout.
func Load(path string, threads int) (*Interpreter, error) {
	start := time.Now()

	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(fmt.Errorf("model file not available: %w", err)).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(path, "").
			Build()
	}

	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Timing("model-load", time.Since(start)).
			Build()
	}

	threads = determineThreadCount(threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("cannot create interpreter")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Build()
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("tensor allocation failed: %v", status)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Build()
	}

	input := interp.GetInputTensor(0)
	if input == nil {
		interp.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("cannot get input tensor")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Build()
	}

	it := &Interpreter{
		model:    model,
		options:  options,
		interp:   interp,
		inputLen: len(input.Float32s()),
	}

	GetLogger().Info("model initialized",
		logger.String("path", path),
		logger.Int("threads", threads),
		logger.Int("input_len", it.inputLen),
		logger.Int("total_cpus", runtime.NumCPU()),
		logger.Duration("elapsed", time.Since(start)))
	return it, nil
}

// InputLen is the number of float32 values of the input tensor.
func (it *Interpreter) InputLen() int {
	return it.inputLen
}

// Invoke copies input into the model, runs it and returns a copy of the
// output vector.
func (it *Interpreter) Invoke(input []float32) ([]float32, error) {
	in := it.interp.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(in.Float32s(), input)

	if status := it.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := it.interp.GetOutputTensor(0)
	if out == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	size := out.Dim(out.NumDims() - 1)
	scores := make([]float32, size)
	copy(scores, out.Float32s())
	return scores, nil
}

// Close frees the interpreter, its options and the model.
func (it *Interpreter) Close() {
	if it.interp != nil {
		it.interp.Delete()
		it.interp = nil
	}
	if it.options != nil {
		it.options.Delete()
		it.options = nil
	}
	if it.model != nil {
		it.model.Delete()
		it.model = nil
	}
}

// determineThreadCount clamps the configured count to the CPU count, and
// derives one from the performance cores when unset.
func determineThreadCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 {
		if optimal := cpuspec.GetCPUSpec().GetOptimalThreadCount(); optimal > 0 {
			return min(optimal, cpus)
		}
		return cpus
	}
	return min(configured, cpus)
}
