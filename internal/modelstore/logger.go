package modelstore

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	storeLogger logger.Logger
	loggerOnce  sync.Once
)

// GetLogger returns the modelstore module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		storeLogger = logger.Global().Module("modelstore")
	})
	return storeLogger
}
