// Package analysis wires capture, classification, triage, and escalation
// into the realtime detection pipeline.
package analysis

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundguardian/sentinel-go/internal/audio"
	"github.com/soundguardian/sentinel-go/internal/classifier"
	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/escalation"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/logging"
	"github.com/soundguardian/sentinel-go/internal/observability"
	"github.com/soundguardian/sentinel-go/internal/session"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// pollInterval is how long the frame loop sleeps when no frame is ready.
const pollInterval = 10 * time.Millisecond

// Deps carries the pipeline's collaborators. Impulse and Metrics may be nil.
type Deps struct {
	Sound      classifier.SoundModel
	Impulse    classifier.ImpulseModel
	Engine     *triage.Engine
	Sessions   *session.Controller
	Dispatcher *escalation.Dispatcher
	Bus        *events.Bus
	Metrics    *observability.Metrics
}

// Pipeline owns the sliding analysis window and drives the
// capture -> classify -> triage -> escalate cycle.
type Pipeline struct {
	settings *conf.Settings
	deps     Deps

	window          *audio.SlidingWindow
	frames          *audio.FrameBuffer
	busy            atomic.Bool
	samplesSinceRun int

	quit chan struct{}
	wg   sync.WaitGroup
	log  *slog.Logger
}

// New creates a pipeline over the given collaborators.
func New(settings *conf.Settings, deps Deps) *Pipeline {
	return &Pipeline{
		settings: settings,
		deps:     deps,
		window:   audio.NewSlidingWindow(conf.WindowSamples),
		frames:   audio.NewFrameBuffer(conf.FrameSamples, 16),
		quit:     make(chan struct{}),
		log:      logging.ForService("analysis"),
	}
}

// FrameBuffer returns the buffer the capture callback writes into.
func (p *Pipeline) FrameBuffer() *audio.FrameBuffer {
	return p.frames
}

// Start launches the frame loop.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.frameLoop()
}

// Stop halts the frame loop and waits for in-flight escalations.
func (p *Pipeline) Stop() {
	close(p.quit)
	p.wg.Wait()
	p.deps.Dispatcher.Wait()
}

func (p *Pipeline) frameLoop() {
	defer p.wg.Done()
	var lastOverruns uint64
	lastCheck := time.Now()
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		if time.Since(lastCheck) > 5*time.Second {
			lastOverruns = p.reportOverruns(lastOverruns)
			lastCheck = time.Now()
		}

		frame, ok := p.frames.ReadFrame()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		// Frames keep draining while paused so stale audio does not burst
		// through on resume.
		if !p.deps.Sessions.Monitoring() {
			continue
		}
		p.ProcessFrame(frame)
	}
}

// ProcessFrame slides one frame into the window and decides whether to run a
// classification cycle. A cycle runs when enough samples accumulated since
// the last run, or immediately when the frame is loud enough to be an
// impulse. At most one cycle runs at a time; frames arriving during a cycle
// only advance the window.
func (p *Pipeline) ProcessFrame(frame []float32) {
	rms := p.window.Push(frame)
	p.deps.Bus.Publish(events.AudioLevelEvent{Time: time.Now(), RMS: rms})

	p.samplesSinceRun += len(frame)
	isImpulse := rms > p.settings.Triage.ImpulseRMSThreshold
	isTime := p.samplesSinceRun >= p.settings.Triage.RunIntervalSamples

	if (isImpulse || isTime) && p.busy.CompareAndSwap(false, true) {
		p.samplesSinceRun = 0
		snapshot := p.window.Snapshot()
		go func() {
			defer p.busy.Store(false)
			p.classify(snapshot)
		}()
	}
}

// ProcessFrameSync is the file-analysis variant: the cycle runs inline so
// results are deterministic.
func (p *Pipeline) ProcessFrameSync(frame []float32) {
	rms := p.window.Push(frame)
	p.samplesSinceRun += len(frame)
	if rms > p.settings.Triage.ImpulseRMSThreshold ||
		p.samplesSinceRun >= p.settings.Triage.RunIntervalSamples {
		p.samplesSinceRun = 0
		p.classify(p.window.Snapshot())
	}
}

// classify runs both models over the window and feeds the ranking through
// the rule engine.
func (p *Pipeline) classify(samples []float32) {
	start := time.Now()

	result, err := p.deps.Sound.Classify(samples)
	if err != nil {
		p.log.Error("classification failed", "error", err)
		p.deps.Bus.Publish(events.ErrorEvent{Time: time.Now(), Err: err})
		return
	}

	impulseProb := -1.0
	if p.deps.Impulse != nil {
		prob, probErr := p.deps.Impulse.Probability(result.Scores)
		if probErr != nil {
			p.log.Warn("impulse model failed, continuing without it", "error", probErr)
		} else {
			impulseProb = prob
		}
	}

	if p.deps.Metrics != nil {
		p.deps.Metrics.ClassificationTotal.Inc()
		p.deps.Metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	}

	decision := p.deps.Engine.Evaluate(result.Ranked, impulseProb, time.Now())
	switch decision.Outcome {
	case triage.OutcomeSkip:
	case triage.OutcomeNotify:
		p.deps.Bus.Publish(events.DetectionEvent{
			Time:               time.Now(),
			Label:              decision.Top.Label,
			Confidence:         decision.Top.Score,
			IsCritical:         triage.IsCriticalSound(decision.Top.Label),
			ImpulseProbability: impulseProb,
		})
	case triage.OutcomeTrigger:
		// Analysis holds while the trigger is verified. The session ID stays
		// the same so the pending verdict applies to this episode.
		p.deps.Sessions.ShutdownForEmergency()
		p.deps.Bus.Publish(events.TriggerEvent{Time: time.Now(), Context: decision.Trigger})
		p.deps.Dispatcher.Dispatch(decision.Trigger)
	}
}

// DeclareEmergency raises a user-declared emergency, bypassing both the rule
// engine and verification. The alert goes out immediately and the pipeline
// pauses like any confirmed emergency.
func (p *Pipeline) DeclareEmergency(reason string) {
	if reason == "" {
		reason = "Emergency declared by user."
	}
	tc := &triage.TriggerContext{
		Label:         "Manual trigger",
		Confidence:    1.0,
		Timestamp:     time.Now(),
		EmergencyType: "MANUAL_TRIGGER",
		Cooldown:      triage.CategoryLifeSafety,
		History:       p.deps.Engine.History().Entries(),
		UserContext:   reason,
	}
	p.log.Warn("manual emergency declared", "reason", reason)
	p.deps.Bus.Publish(events.TriggerEvent{Time: time.Now(), Context: tc})
	p.deps.Dispatcher.DispatchManual(tc, reason)
}

// Resume clears state and starts a fresh monitoring session after a false
// alarm or a pause.
func (p *Pipeline) Resume() {
	p.deps.Engine.History().Clear()
	p.deps.Dispatcher.ResetAlertGate()
	p.deps.Sessions.ResumeAfterFalseAlarm()
}

// Name implements events.Consumer.
func (p *Pipeline) Name() string { return "pipeline" }

// Handle implements events.Consumer. A confirmed emergency pauses
// monitoring for the configured window and resets per-episode state so the
// next session starts clean. Any other verdict releases the shutdown taken
// at trigger time; monitoring must never stay stuck on a cleared or failed
// verification.
func (p *Pipeline) Handle(event events.Event) {
	ev, ok := event.(events.VerdictEvent)
	if !ok {
		return
	}
	// A verdict from a superseded session must not touch episode state; a
	// verification may already be in flight for the current one.
	if current := p.deps.Sessions.CurrentSession(); ev.SessionID != current {
		p.log.Info("ignoring verdict for superseded session",
			"session", ev.SessionID, "current", current, "outcome", ev.Outcome)
		return
	}
	if ev.Outcome == events.VerdictConfirmed {
		pause := time.Duration(p.settings.Session.PauseHours) * time.Hour
		p.log.Warn("emergency confirmed, pausing monitoring", "pause", pause, "reason", ev.Reason)
		p.deps.Sessions.PauseAfterEmergency(pause)
		p.deps.Engine.History().Clear()
		p.deps.Dispatcher.ResetAlertGate()
		return
	}
	p.log.Info("trigger resolved without emergency, resuming monitoring",
		"outcome", ev.Outcome, "reason", ev.Reason)
	p.Resume()
}

// reportOverruns surfaces buffer overruns through the error package once per
// observation.
func (p *Pipeline) reportOverruns(last uint64) uint64 {
	current := p.frames.Overruns()
	if current > last {
		if p.deps.Metrics != nil {
			p.deps.Metrics.BufferOverruns.Add(float64(current - last))
		}
		err := errors.Newf("frame buffer dropped %d frames", current-last).
			Component("analysis").
			Category(errors.CategoryAudioBuffer).
			Build()
		p.log.Warn("audio frames dropped", "error", err)
	}
	return current
}
