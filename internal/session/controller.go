// Package session tracks the monitoring episode: trigger cooldowns, the
// emergency shutdown latch, and the pause window after a confirmed
// emergency. Session IDs fence stale escalation results; any verdict that
// arrives for a superseded session is discarded.
package session

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/soundguardian/sentinel-go/internal/logging"
)

// State describes what the monitor is currently doing.
type State string

const (
	// StateMonitoring means audio is being analyzed.
	StateMonitoring State = "monitoring"
	// StateShutdown means a trigger is being escalated and analysis is held.
	StateShutdown State = "shutdown"
	// StatePaused means a confirmed emergency paused monitoring for a while.
	StatePaused State = "paused"
)

// Status is a point-in-time snapshot for status reporting.
type Status struct {
	SessionID   int64     `json:"sessionId"`
	State       State     `json:"state"`
	PausedUntil time.Time `json:"pausedUntil,omitempty"`
	LastTrigger time.Time `json:"lastTrigger,omitempty"`
}

// Controller owns the episode state machine. It also implements the triage
// engine's cooldown gate with one timer per trigger category.
type Controller struct {
	mu          sync.Mutex
	sessionID   int64
	shutdown    bool
	pausedUntil time.Time
	lastTrigger time.Time
	cooldowns   *gocache.Cache
	cooldown    time.Duration
	log         *slog.Logger
}

// NewController creates a controller with the given per-category cooldown.
func NewController(cooldown time.Duration) *Controller {
	return &Controller{
		cooldowns: gocache.New(cooldown, time.Minute),
		cooldown:  cooldown,
		log:       logging.ForService("session"),
	}
}

// InCooldown reports whether category triggered within the cooldown window.
func (c *Controller) InCooldown(category string) bool {
	_, found := c.cooldowns.Get(category)
	return found
}

// RecordTrigger arms the cooldown for category.
func (c *Controller) RecordTrigger(category string) {
	c.cooldowns.Set(category, time.Now(), c.cooldown)
	c.mu.Lock()
	c.lastTrigger = time.Now()
	c.mu.Unlock()
}

// CurrentSession returns the active session ID.
func (c *Controller) CurrentSession() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Monitoring reports whether audio analysis should run. An expired pause
// resumes monitoring lazily.
func (c *Controller) Monitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pausedUntil.IsZero() && time.Now().After(c.pausedUntil) {
		c.log.Info("pause expired, resuming monitoring", "session", c.sessionID)
		c.pausedUntil = time.Time{}
		c.shutdown = false
	}
	return !c.shutdown
}

// ShutdownForEmergency halts analysis while a trigger is escalated. The
// session ID is unchanged so the pending verdict still applies.
func (c *Controller) ShutdownForEmergency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	c.log.Info("emergency shutdown", "session", c.sessionID)
}

// ResumeAfterFalseAlarm starts a fresh session and resumes monitoring.
// Returns the new session ID.
func (c *Controller) ResumeAfterFalseAlarm() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID++
	c.shutdown = false
	c.pausedUntil = time.Time{}
	c.log.Info("resuming after false alarm", "session", c.sessionID)
	return c.sessionID
}

// PauseAfterEmergency starts a fresh session and holds monitoring for d.
// Verdicts for the previous session become stale.
func (c *Controller) PauseAfterEmergency(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID++
	c.shutdown = true
	c.pausedUntil = time.Now().Add(d)
	c.log.Info("paused after emergency", "session", c.sessionID, "until", c.pausedUntil)
	return c.sessionID
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := StateMonitoring
	switch {
	case !c.pausedUntil.IsZero() && time.Now().Before(c.pausedUntil):
		state = StatePaused
	case c.shutdown:
		state = StateShutdown
	}
	return Status{
		SessionID:   c.sessionID,
		State:       state,
		PausedUntil: c.pausedUntil,
		LastTrigger: c.lastTrigger,
	}
}
