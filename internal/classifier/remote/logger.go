package remote

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	remoteLogger logger.Logger
	loggerOnce   sync.Once
)

// GetLogger returns the remote classifier module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		remoteLogger = logger.Global().Module("classifier.remote")
	})
	return remoteLogger
}
