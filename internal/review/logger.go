package review

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	reviewLogger logger.Logger
	loggerOnce   sync.Once
)

// GetLogger returns the review module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		reviewLogger = logger.Global().Module("review")
	})
	return reviewLogger
}
