package session

import (
	"sync"

	"github.com/tphakala/ecosort/internal/logger"
)

var (
	sessionLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the session module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		sessionLogger = logger.Global().Module("session")
	})
	return sessionLogger
}
