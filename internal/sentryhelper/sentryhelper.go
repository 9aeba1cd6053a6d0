// Package sentryhelper reports errors to Sentry when a DSN is configured and
// does nothing otherwise.
package sentryhelper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Helper wraps the global Sentry hub.
type Helper struct {
	enabled bool
	logger  *slog.Logger
}

// New initialises Sentry for dsn. An empty dsn returns a disabled Helper.
func New(dsn, environment, release string, logger *slog.Logger) (*Helper, error) {
	if dsn == "" {
		return &Helper{logger: logger}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	logger.Info("Sentry error reporting enabled", "environment", environment)
	return &Helper{enabled: true, logger: logger}, nil
}

// IsEnabled returns whether Sentry is enabled.
func (h *Helper) IsEnabled() bool {
	return h.enabled
}

// CaptureExceptionWithContext captures err with tags and extra data.
func (h *Helper) CaptureExceptionWithContext(err error, tags map[string]string, extra map[string]interface{}) {
	if !h.enabled || err == nil {
		return
	}

	// Clone hub to avoid data races in goroutines.
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		for key, value := range extra {
			scope.SetExtra(key, value)
		}
		hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (h *Helper) Flush(timeout time.Duration) {
	if !h.enabled {
		return
	}
	if !sentry.Flush(timeout) {
		h.logger.Warn("Sentry flush timeout", "timeout", timeout)
	}
}
