package media

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	mediaLogger logger.Logger
	loggerOnce  sync.Once
)

// GetLogger returns the media module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		mediaLogger = logger.Global().Module("media")
	})
	return mediaLogger
}
