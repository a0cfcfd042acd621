// Package errors provides centralized error handling with optional telemetry
// integration. Errors built through this package carry a component, a
// category and free-form context that the telemetry reporter and the
// notification layer use for grouping.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory represents the type of error for better categorization.
type ErrorCategory string

const (
	CategoryAudioCapture  ErrorCategory = "audio-capture"
	CategoryAudioBuffer   ErrorCategory = "audio-buffer"
	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryModelLoad     ErrorCategory = "model-loading"
	CategoryLabelLoad     ErrorCategory = "label-loading"
	CategoryInference     ErrorCategory = "model-inference"
	CategoryTriage        ErrorCategory = "triage"
	CategorySession       ErrorCategory = "session-state"
	CategoryReasoning     ErrorCategory = "reasoning-transport"
	CategoryRateLimit     ErrorCategory = "rate-limit"
	CategoryAlertDelivery ErrorCategory = "alert-delivery"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
)

// Priority constants for error prioritization.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time

	mu       sync.RWMutex
	reported bool
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, otherwise defers to the
// wrapped error chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// MarkReported marks this error as reported to telemetry.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new error builder from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set).
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority override for the error.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

// Context adds context data to the error.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing adds performance timing context.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	return eb.Context("operation", operation).Context("duration_ms", duration.Milliseconds())
}

// Build creates the EnhancedError and triggers optional telemetry reporting.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = CategoryGeneric
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
	}

	reportToTelemetry(ee)
	return ee
}

// Component registry for call-stack based component detection.
var (
	componentRegistry = map[string]string{
		"internal/audio":         "audio",
		"internal/classifier":    "classifier",
		"internal/triage":        "triage",
		"internal/session":       "session",
		"internal/escalation":    "escalation",
		"internal/alert":         "alert",
		"internal/mqtt":          "mqtt",
		"internal/conf":          "configuration",
		"internal/analysis":      "analysis",
		"internal/observability": "observability",
	}
	registryMutex sync.RWMutex
)

// RegisterComponent registers a package path pattern with a component name.
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

// detectComponent walks the call stack to find the first caller that lives in
// a registered package.
func detectComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	registryMutex.RLock()
	defer registryMutex.RUnlock()

	for {
		frame, more := frames.Next()
		for pattern, component := range componentRegistry {
			if strings.Contains(frame.Function, pattern) ||
				strings.Contains(frame.File, pattern) {
				return component
			}
		}
		if !more {
			break
		}
	}
	return ComponentUnknown
}

// Standard library passthroughs so callers only import this package.

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether err carries the given category anywhere in its
// chain.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}
