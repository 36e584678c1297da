package jobqueue

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	queueLogger logger.Logger
	loggerOnce  sync.Once
)

// GetLogger returns the jobqueue module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		queueLogger = logger.Global().Module("jobqueue")
	})
	return queueLogger
}
