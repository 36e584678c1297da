// Package telemetry provides opt-in, privacy-scrubbed error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/privacy"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("telemetry")
	})
	return serviceLogger
}

// Init configures Sentry and installs the error reporter when telemetry is enabled.
// It is a no-op when telemetry is disabled.
func Init(settings *conf.Settings) error {
	if !settings.Telemetry.Enabled {
		GetLogger().Debug("telemetry disabled")
		errors.SetTelemetryReporter(nil)
		return nil
	}
	if settings.Telemetry.DSN == "" {
		return errors.Newf("telemetry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return initWithOptions(sentry.ClientOptions{
		Dsn:              settings.Telemetry.DSN,
		Debug:            settings.Telemetry.Debug,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		Release:          fmt.Sprintf("ecosort@%s", settings.Version),
	})
}

func initWithOptions(opts sentry.ClientOptions) error {
	opts.ServerName = ""
	opts.BeforeSend = applyPrivacyFilters
	if err := sentry.Init(opts); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	GetLogger().Info("telemetry enabled")
	return nil
}

// applyPrivacyFilters drops user and host identifying data from an event
// and scrubs URLs, secrets and media paths from its text.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	event.Request = nil

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for _, b := range event.Breadcrumbs {
		b.Message = privacy.ScrubMessage(b.Message)
	}
	for k, v := range event.Tags {
		event.Tags[k] = privacy.ScrubMessage(v)
	}
	return event
}

// Flush waits up to timeout for queued events to be delivered.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
