// Package events provides an asynchronous event bus decoupling the detection
// pipeline from its consumers (UI feeds, MQTT publishing, metrics). The
// pipeline publishes without blocking; slow consumers drop events rather
// than stall classification.
package events

import (
	"time"

	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Event is the marker interface implemented by every event published on the bus.
type Event interface {
	// EventTime returns when the event occurred.
	EventTime() time.Time
}

// AudioLevelEvent reports the short-term loudness of the most recent frame.
// Published once per captured frame.
type AudioLevelEvent struct {
	Time time.Time
	RMS  float64
}

func (e AudioLevelEvent) EventTime() time.Time { return e.Time }

// DetectionEvent reports the top classification of an analysis cycle that
// produced UI-relevant output.
type DetectionEvent struct {
	Time               time.Time
	Label              string
	Confidence         float64
	IsCritical         bool
	ImpulseProbability float64
}

func (e DetectionEvent) EventTime() time.Time { return e.Time }

// TriggerEvent reports that a cycle crossed the escalation threshold.
type TriggerEvent struct {
	Time    time.Time
	Context *triage.TriggerContext
}

func (e TriggerEvent) EventTime() time.Time { return e.Time }

// Verdict outcome values carried by VerdictEvent.
const (
	VerdictConfirmed   = "confirmed"
	VerdictCleared     = "cleared"
	VerdictRateLimited = "rate-limited"
	VerdictUnverified  = "unverified"
)

// VerdictEvent reports the outcome of an escalation. An unverified outcome
// means the reasoning call failed and the situation could not be checked;
// consumers must present this as "could not verify", never as all clear.
type VerdictEvent struct {
	Time              time.Time
	SessionID         int64
	Outcome           string
	Reason            string
	Recommendation    string
	RetryAfterSeconds int
}

func (e VerdictEvent) EventTime() time.Time { return e.Time }

// ErrorEvent reports a cycle-local or session-local failure.
type ErrorEvent struct {
	Time time.Time
	Err  error
}

func (e ErrorEvent) EventTime() time.Time { return e.Time }

// Consumer receives events from the bus. Handle is called from a dedicated
// goroutine per consumer and may block without affecting other consumers.
type Consumer interface {
	// Name returns the consumer name for identification.
	Name() string

	// Handle processes a single event.
	Handle(event Event)
}
