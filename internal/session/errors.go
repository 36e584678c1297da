package session

import (
	"fmt"

	"github.com/tphakala/ecosort/internal/errors"
)

// Sentinel errors surfaced by the pipeline.
var (
	ErrConfigurationMissing = errors.NewStd("no taxonomy selected")
	ErrNoUsableMedia        = errors.NewStd("no usable media")
	ErrPersistence          = errors.NewStd("session persistence failed")
	ErrInvalidTransition    = errors.NewStd("invalid pipeline transition")
)

func configurationError(err error, group string) error {
	return errors.New(err).
		Component("session").
		Category(errors.CategoryConfiguration).
		Context("group", group).
		Build()
}

func persistenceError(err error, operation, sessionID string) error {
	return errors.New(fmt.Errorf("%w: %w", ErrPersistence, err)).
		Component("session").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("session_id", sessionID).
		Build()
}

func transitionError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))).
		Component("session").
		Category(errors.CategoryState).
		Build()
}
