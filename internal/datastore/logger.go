package datastore

import (
	"sync"
	"time"

	gorm_logger "gorm.io/gorm/logger"

	"github.com/tphakala/ecosort/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

var (
	datastoreLogger logger.Logger
	loggerOnce      sync.Once
)

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		datastoreLogger = logger.Global().Module("datastore")
	})
	return datastoreLogger
}

func newGormLogger() gorm_logger.Interface {
	return logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold)
}
