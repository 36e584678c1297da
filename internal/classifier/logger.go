package classifier

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	classifierLogger logger.Logger
	loggerOnce       sync.Once
)

// GetLogger returns the classifier module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		classifierLogger = logger.Global().Module("classifier")
	})
	return classifierLogger
}
