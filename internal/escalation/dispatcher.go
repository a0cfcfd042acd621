package escalation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundguardian/sentinel-go/internal/alert"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/logging"
	"github.com/soundguardian/sentinel-go/internal/session"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// verifyTimeout bounds one reasoning call.
const verifyTimeout = 30 * time.Second

// Dispatcher runs escalations for triggers. Each trigger is verified on its
// own goroutine; results for a superseded session are discarded, and the
// alert gate guarantees at most one alert per episode no matter how many
// triggers confirm.
type Dispatcher struct {
	reasoner  Reasoner
	sessions  *session.Controller
	alerts    *alert.Service
	bus       *events.Bus
	alertSent atomic.Bool
	wg        sync.WaitGroup
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher. reasoner may be nil, in which case
// triggers surface as unverified and only critical-severity ones alert.
func NewDispatcher(reasoner Reasoner, sessions *session.Controller, alerts *alert.Service, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		reasoner: reasoner,
		sessions: sessions,
		alerts:   alerts,
		bus:      bus,
		log:      logging.ForService("escalation"),
	}
}

// Dispatch verifies a trigger asynchronously. The session ID is captured at
// dispatch time; by the time the verdict arrives the user may have resumed
// or paused, and a stale verdict must not fire an alert into the new episode.
func (d *Dispatcher) Dispatch(tc *triage.TriggerContext) {
	sessionID := d.sessions.CurrentSession()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(sessionID, tc)
	}()
}

func (d *Dispatcher) run(sessionID int64, tc *triage.TriggerContext) {
	if d.reasoner == nil {
		d.finish(sessionID, tc, &Verdict{
			Emergency:      alert.SeverityForTrigger(tc) == alert.SeverityCritical,
			Reason:         "Verification disabled, trigger passed through by severity.",
			Recommendation: "Check your surroundings and confirm manually.",
		}, events.VerdictUnverified)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	verdict, err := d.reasoner.Verify(ctx, tc)
	if err != nil {
		if rle, ok := err.(*RateLimitError); ok {
			d.log.Warn("reasoning service rate limited",
				"retryAfter", rle.RetryAfter, "label", tc.Label)
			if d.stale(sessionID, tc.Label) {
				return
			}
			d.publish(events.VerdictEvent{
				Time:              time.Now(),
				SessionID:         sessionID,
				Outcome:           events.VerdictRateLimited,
				Reason:            "Rate limit exceeded. Please wait.",
				Recommendation:    "System will retry automatically",
				RetryAfterSeconds: int(rle.RetryAfter.Seconds()),
			})
			return
		}
		d.log.Error("verification failed", "label", tc.Label, "error", err)
		d.publish(events.ErrorEvent{Time: time.Now(), Err: err})
		d.finish(sessionID, tc, &Verdict{
			Emergency:      false,
			Reason:         "Verification couldn't complete",
			Recommendation: "Check manually",
		}, events.VerdictUnverified)
		return
	}

	outcome := events.VerdictCleared
	if verdict.Emergency {
		outcome = events.VerdictConfirmed
	}
	d.finish(sessionID, tc, verdict, outcome)
}

// stale reports whether the session the trigger was captured in has been
// superseded. A response for a superseded session must have no side effects.
func (d *Dispatcher) stale(sessionID int64, label string) bool {
	current := d.sessions.CurrentSession()
	if current != sessionID {
		d.log.Info("discarding stale verdict",
			"session", sessionID, "current", current, "label", label)
		return true
	}
	return false
}

// finish publishes the verdict and, for emergencies in the still-current
// session, sends the episode's one alert.
func (d *Dispatcher) finish(sessionID int64, tc *triage.TriggerContext, verdict *Verdict, outcome string) {
	if d.stale(sessionID, tc.Label) {
		return
	}

	d.publish(events.VerdictEvent{
		Time:           time.Now(),
		SessionID:      sessionID,
		Outcome:        outcome,
		Reason:         verdict.Reason,
		Recommendation: verdict.Recommendation,
	})

	if !verdict.Emergency {
		return
	}

	// One alert per episode. The gate flips before the send so a second
	// confirming trigger cannot race past it.
	if !d.alertSent.CompareAndSwap(false, true) {
		d.log.Info("alert already sent this episode, skipping", "label", tc.Label)
		return
	}
	// The episode can roll over between the staleness check and winning the
	// gate: a concurrent confirmation pauses the session and re-arms the
	// gate for the next episode. Re-check and hand the gate back rather
	// than alert into the new episode.
	if d.stale(sessionID, tc.Label) {
		d.alertSent.Store(false)
		return
	}
	d.sendAlert(tc, verdict)
}

func (d *Dispatcher) sendAlert(tc *triage.TriggerContext, verdict *Verdict) {
	severity := alert.SeverityForTrigger(tc)
	message := verdict.Reason
	if verdict.Recommendation != "" {
		message += "\nRecommended: " + verdict.Recommendation
	}

	a := alert.NewAlert(severity, tc.Label, message, d.alerts.Contacts())
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()
	if err := d.alerts.Send(ctx, a); err != nil {
		d.log.Error("alert delivery failed", "id", a.ID, "error", err)
		d.publish(events.ErrorEvent{Time: time.Now(), Err: err})
	}
}

// DispatchManual sends an alert for a user-declared emergency immediately,
// without verification. The alert gate still applies.
func (d *Dispatcher) DispatchManual(tc *triage.TriggerContext, reason string) {
	sessionID := d.sessions.CurrentSession()
	d.finish(sessionID, tc, &Verdict{
		Emergency:      true,
		Reason:         reason,
		Recommendation: "Emergency contacts have been notified.",
	}, events.VerdictConfirmed)
}

// ResetAlertGate re-arms the per-episode alert gate. Called when a new
// episode starts.
func (d *Dispatcher) ResetAlertGate() {
	d.alertSent.Store(false)
}

// Wait blocks until all in-flight escalations complete. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}
