package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundguardian/sentinel-go/internal/alert"
	"github.com/soundguardian/sentinel-go/internal/classifier"
	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/escalation"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/session"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// fakeSoundModel returns a scripted sequence of rankings, repeating the last
// one when the script runs out.
type fakeSoundModel struct {
	mu      sync.Mutex
	results []triage.Result
	calls   int
}

func (m *fakeSoundModel) Classify(samples []float32) (*classifier.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	m.calls++
	ranked := m.results[idx]
	scores := make([]float32, len(ranked))
	for i, c := range ranked {
		scores[i] = float32(c.Score)
	}
	return &classifier.Classification{Ranked: ranked, Scores: scores}, nil
}

func (m *fakeSoundModel) NumClasses() int { return 0 }
func (m *fakeSoundModel) Close()          {}

func (m *fakeSoundModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// cannedReasoner confirms or clears every trigger it sees.
type cannedReasoner struct {
	emergency bool
}

func (r *cannedReasoner) Verify(_ context.Context, _ *triage.TriggerContext) (*escalation.Verdict, error) {
	return &escalation.Verdict{
		Emergency:      r.emergency,
		Reason:         "canned verdict",
		Recommendation: "canned recommendation",
	}, nil
}

type fakeImpulseModel struct {
	prob float64
}

func (m *fakeImpulseModel) Probability(scores []float32) (float64, error) { return m.prob, nil }
func (m *fakeImpulseModel) Close()                                        {}

type busRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *busRecorder) Name() string { return "test-recorder" }

func (r *busRecorder) Handle(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *busRecorder) detections() []events.DetectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.DetectionEvent
	for _, ev := range r.events {
		if d, ok := ev.(events.DetectionEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *busRecorder) triggers() []events.TriggerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.TriggerEvent
	for _, ev := range r.events {
		if tr, ok := ev.(events.TriggerEvent); ok {
			out = append(out, tr)
		}
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	sessions *session.Controller
	alerts   *alert.Service
	bus      *events.Bus
	recorder *busRecorder
	sound    *fakeSoundModel
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Triage.ImpulseRMSThreshold = 0.05
	s.Triage.RunIntervalSamples = conf.FrameSamples
	s.Session.PauseHours = 3
	return s
}

func newPipelineFixture(t *testing.T, sound *fakeSoundModel, impulse classifier.ImpulseModel, reasoner escalation.Reasoner) *pipelineFixture {
	t.Helper()

	sessions := session.NewController(time.Hour)
	engine := triage.NewEngine(triage.Config{}, sessions)
	alerts, err := alert.NewService("Sentinel", &conf.AlertSettings{Enabled: false, LogSize: 10})
	require.NoError(t, err)

	bus := events.NewBus()
	recorder := &busRecorder{}
	bus.Register(recorder)

	dispatcher := escalation.NewDispatcher(reasoner, sessions, alerts, bus)
	pipeline := New(testSettings(), Deps{
		Sound:      sound,
		Impulse:    impulse,
		Engine:     engine,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Bus:        bus,
	})
	bus.Register(pipeline)

	return &pipelineFixture{
		pipeline: pipeline,
		sessions: sessions,
		alerts:   alerts,
		bus:      bus,
		recorder: recorder,
		sound:    sound,
	}
}

func quietFrame() []float32 {
	return make([]float32, conf.FrameSamples)
}

func TestPipeline_NotifyPublishesDetection(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Knock", Score: 0.25}},
	}}
	f := newPipelineFixture(t, sound, nil, nil)

	// A quiet frame of exactly the run interval schedules one cycle.
	f.pipeline.ProcessFrameSync(quietFrame())
	f.bus.Shutdown()

	require.Equal(t, 1, sound.callCount())
	detections := f.recorder.detections()
	require.Len(t, detections, 1)
	assert.Equal(t, "Knock", detections[0].Label)
	assert.True(t, detections[0].IsCritical)
	assert.InDelta(t, -1.0, detections[0].ImpulseProbability, 1e-9)
	assert.Empty(t, f.recorder.triggers())
}

func TestPipeline_CadenceAccumulatesQuietFrames(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Whispering", Score: 0.1}},
	}}
	f := newPipelineFixture(t, sound, nil, nil)
	half := make([]float32, conf.FrameSamples/2)

	f.pipeline.ProcessFrameSync(half)
	assert.Equal(t, 0, sound.callCount(), "half the interval must not run a cycle")

	f.pipeline.ProcessFrameSync(half)
	assert.Equal(t, 1, sound.callCount())
	f.bus.Shutdown()
}

func TestPipeline_LoudFrameRunsImmediately(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Whispering", Score: 0.1}},
	}}
	f := newPipelineFixture(t, sound, nil, nil)

	loud := make([]float32, 64)
	for i := range loud {
		loud[i] = 0.3
	}
	f.pipeline.ProcessFrameSync(loud)
	assert.Equal(t, 1, sound.callCount())
	f.bus.Shutdown()
}

func TestPipeline_ConfirmedTriggerPauses(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Smoke detector, smoke alarm", Score: 0.60}},
	}}
	f := newPipelineFixture(t, sound, nil, &cannedReasoner{emergency: true})

	f.pipeline.ProcessFrameSync(quietFrame())

	triggers := func() []events.TriggerEvent { return f.recorder.triggers() }
	require.Eventually(t, func() bool { return len(triggers()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "SMOKE_ALARM", triggers()[0].Context.EmergencyType)

	// Analysis halts at trigger time, then the confirmed verdict pauses the
	// session for the configured window.
	assert.Eventually(t, func() bool {
		return f.sessions.Snapshot().State == session.StatePaused
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.alerts.Log().Len() == 1
	}, time.Second, time.Millisecond)

	f.bus.Shutdown()
	assert.Equal(t, 0, f.pipeline.deps.Engine.History().Len())
}

func TestPipeline_ClearedTriggerResumes(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Smoke detector, smoke alarm", Score: 0.60}},
	}}
	f := newPipelineFixture(t, sound, nil, &cannedReasoner{emergency: false})

	before := f.sessions.CurrentSession()
	f.pipeline.ProcessFrameSync(quietFrame())

	// A cleared verdict releases the shutdown and fences the old session.
	assert.Eventually(t, func() bool {
		return f.sessions.Monitoring() && f.sessions.CurrentSession() == before+1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.alerts.Log().Len())
	f.bus.Shutdown()
}

func TestPipeline_NilReasonerCriticalAlertsAndResumes(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Smoke detector, smoke alarm", Score: 0.60}},
	}}
	f := newPipelineFixture(t, sound, nil, nil)

	f.pipeline.ProcessFrameSync(quietFrame())

	// Without a reasoner the critical trigger alerts unverified, but an
	// unverified verdict never pauses monitoring.
	require.Eventually(t, func() bool {
		return f.alerts.Log().Len() == 1
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.sessions.Monitoring()
	}, time.Second, time.Millisecond)
	f.bus.Shutdown()
}

func TestPipeline_ImpulseFusionReachesEngine(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{
		{{Label: "Whispering", Score: 0.5}, {Label: "Thud", Score: 0.08}},
	}}
	f := newPipelineFixture(t, sound, &fakeImpulseModel{prob: 0.9}, nil)

	f.pipeline.ProcessFrameSync(quietFrame())

	require.Eventually(t, func() bool {
		return len(f.recorder.triggers()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "GUNSHOT_MODEL", f.recorder.triggers()[0].Context.EmergencyType)
	f.bus.Shutdown()
}

func TestPipeline_DeclareEmergency(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{{{Label: "Whispering", Score: 0.1}}}}
	f := newPipelineFixture(t, sound, nil, nil)

	f.pipeline.DeclareEmergency("Fall detected by user")

	require.Eventually(t, func() bool {
		return f.alerts.Log().Len() == 1
	}, time.Second, time.Millisecond)
	entry := f.alerts.Log().Entries()[0]
	assert.Equal(t, alert.SeverityCritical, entry.Severity)
	assert.Contains(t, entry.Message, "Fall detected by user")

	assert.Eventually(t, func() bool {
		return f.sessions.Snapshot().State == session.StatePaused
	}, time.Second, time.Millisecond)
	f.bus.Shutdown()
}

func TestPipeline_SupersededVerdictLeavesSessionAlone(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{{{Label: "Whispering", Score: 0.1}}}}

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		f := newPipelineFixture(t, sound, nil, nil)

		stale := f.sessions.CurrentSession()
		f.pipeline.Resume()
		current := f.sessions.CurrentSession()

		// A rate-limited response for the resolved episode must not roll
		// the session again; a verification may be running for this one.
		f.bus.Publish(events.VerdictEvent{
			Time:      time.Now(),
			SessionID: stale,
			Outcome:   events.VerdictRateLimited,
		})
		f.bus.Shutdown()

		assert.Equal(t, current, f.sessions.CurrentSession())
	})

	t.Run("confirmed", func(t *testing.T) {
		t.Parallel()
		f := newPipelineFixture(t, sound, nil, nil)

		stale := f.sessions.CurrentSession()
		f.pipeline.Resume()
		current := f.sessions.CurrentSession()

		f.bus.Publish(events.VerdictEvent{
			Time:      time.Now(),
			SessionID: stale,
			Outcome:   events.VerdictConfirmed,
		})
		f.bus.Shutdown()

		assert.True(t, f.sessions.Monitoring())
		assert.Equal(t, current, f.sessions.CurrentSession())
	})
}

func TestPipeline_ResumeStartsFreshSession(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{{{Label: "Knock", Score: 0.25}}}}
	f := newPipelineFixture(t, sound, nil, nil)

	f.pipeline.ProcessFrameSync(quietFrame())
	require.Equal(t, 1, f.pipeline.deps.Engine.History().Len())

	before := f.sessions.CurrentSession()
	f.pipeline.Resume()
	assert.Equal(t, before+1, f.sessions.CurrentSession())
	assert.Equal(t, 0, f.pipeline.deps.Engine.History().Len())
	assert.True(t, f.sessions.Monitoring())
	f.bus.Shutdown()
}

func TestPipeline_StartStopDrainsFrames(t *testing.T) {
	t.Parallel()

	sound := &fakeSoundModel{results: []triage.Result{{{Label: "Knock", Score: 0.25}}}}
	f := newPipelineFixture(t, sound, nil, nil)

	f.pipeline.Start()

	frame := make([]byte, conf.FrameSamples*2)
	require.NoError(t, f.pipeline.FrameBuffer().Write(frame))

	require.Eventually(t, func() bool {
		return sound.callCount() >= 1
	}, 2*time.Second, pollInterval)

	f.pipeline.Stop()
	f.bus.Shutdown()
}
