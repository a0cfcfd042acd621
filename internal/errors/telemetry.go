// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	telemetryReporter  TelemetryReporter
	telemetryMutex     sync.RWMutex
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs the reporter used by Build(). Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMutex.Lock()
	defer telemetryMutex.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	telemetryMutex.RLock()
	reporter := telemetryReporter
	telemetryMutex.RUnlock()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryReporter implements TelemetryReporter for Sentry.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled.
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := sentry.LevelError
		switch ee.Priority {
		case PriorityCritical:
			level = sentry.LevelFatal
		case PriorityLow:
			level = sentry.LevelWarning
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})

		sentry.CaptureMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	})

	ee.MarkReported()
}
