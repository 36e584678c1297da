package datastore

import (
	"fmt"

	"github.com/tphakala/ecosort/internal/errors"
)

// Sentinel errors returned by the store.
var (
	ErrSessionNotFound = errors.NewStd("session not found")
	ErrInvalidSession  = errors.NewStd("invalid session")
	ErrNotInitialized  = errors.NewStd("database connection is not initialized")
)

func newValidationError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidSession, fmt.Sprintf(format, args...))).
		Component("datastore").
		Category(errors.CategoryValidation).
		Build()
}

func dbError(err error, operation, sessionID string) error {
	return errors.New(fmt.Errorf("%s: %w", operation, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("session_id", sessionID).
		Build()
}

func notFound(sessionID string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("session_id", sessionID).
		Build()
}
