// Package analysis wires the session pipeline, stores and classifiers from
// settings and runs them for the command line and the HTTP server.
package analysis

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("analysis")
	})
	return serviceLogger
}
