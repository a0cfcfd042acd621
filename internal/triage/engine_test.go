package triage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGate records triggers and reports cooldown from a fixed set.
type fakeGate struct {
	mu       sync.Mutex
	cooled   map[string]bool
	recorded []string
}

func newFakeGate(cooled ...string) *fakeGate {
	m := make(map[string]bool, len(cooled))
	for _, c := range cooled {
		m[c] = true
	}
	return &fakeGate{cooled: m}
}

func (g *fakeGate) InCooldown(category string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooled[category]
}

func (g *fakeGate) RecordTrigger(category string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorded = append(g.recorded, category)
}

func evalOnce(t *testing.T, gate CooldownGate, result Result, impulseProb float64) Decision {
	t.Helper()
	engine := NewEngine(Config{}, gate)
	return engine.Evaluate(result, impulseProb, time.Now())
}

func TestEvaluate_LifeSafety(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		result       Result
		cooled       []string
		wantOutcome  Outcome
		wantType     string
		wantCooldown string
	}{
		{
			name:         "smoke alarm triggers",
			result:       Result{{Label: "Smoke detector, smoke alarm", Score: 0.25}},
			wantOutcome:  OutcomeTrigger,
			wantType:     "SMOKE_ALARM",
			wantCooldown: CategoryLifeSafety,
		},
		{
			name:         "fire alarm triggers",
			result:       Result{{Label: "Fire alarm", Score: 0.25}},
			wantOutcome:  OutcomeTrigger,
			wantType:     "FIRE_ALARM",
			wantCooldown: CategoryLifeSafety,
		},
		{
			name: "high confidence bypasses cooldown",
			result: Result{{Label: "Smoke detector, smoke alarm", Score: 0.55}},
			cooled: []string{
				CategoryLifeSafety, CategorySiren, CategoryGlass, CategoryGun,
				CategoryDistress, CategoryCritical, CategoryPattern,
			},
			wantOutcome:  OutcomeTrigger,
			wantType:     "SMOKE_ALARM",
			wantCooldown: CategoryLifeSafety,
		},
		{
			name: "low confidence respects cooldown",
			result: Result{{Label: "Smoke detector, smoke alarm", Score: 0.25}},
			cooled: []string{
				CategoryLifeSafety, CategorySiren, CategoryGlass, CategoryGun,
				CategoryDistress, CategoryCritical, CategoryPattern,
			},
			wantOutcome: OutcomeNotify,
		},
		{
			name:        "below rule threshold",
			result:      Result{{Label: "Smoke detector, smoke alarm", Score: 0.12}},
			wantOutcome: OutcomeTrigger,
			// still fires via the critical-sound fallback, "alarm" threshold is 0.1
			wantType:     "CRITICAL_SOUND",
			wantCooldown: CategoryCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gate := newFakeGate(tt.cooled...)
			dec := evalOnce(t, gate, tt.result, -1)
			assert.Equal(t, tt.wantOutcome, dec.Outcome)
			if tt.wantOutcome == OutcomeTrigger {
				require.NotNil(t, dec.Trigger)
				assert.Equal(t, tt.wantType, dec.Trigger.EmergencyType)
				assert.Equal(t, tt.wantCooldown, dec.Trigger.Cooldown)
				assert.Equal(t, []string{tt.wantCooldown}, gate.recorded)
			}
		})
	}
}

func TestEvaluate_Sirens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		label    string
		wantType string
	}{
		{"police", "Police car (siren)", "POLICE_SIREN"},
		{"ambulance", "Ambulance (siren)", "AMBULANCE_SIREN"},
		{"fire truck", "Fire engine, fire truck (siren)", "FIRE_TRUCK_SIREN"},
		{"generic siren", "Civil defense siren", "SIREN"},
		{"vehicle without siren keyword", "Emergency vehicle", "EMERGENCY_SIREN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dec := evalOnce(t, newFakeGate(), Result{{Label: tt.label, Score: 0.30}}, -1)
			require.Equal(t, OutcomeTrigger, dec.Outcome)
			assert.Equal(t, tt.wantType, dec.Trigger.EmergencyType)
			assert.Equal(t, CategorySiren, dec.Trigger.Cooldown)
			assert.False(t, dec.Trigger.IsGunshot)
		})
	}
}

func TestEvaluate_SmokeAlarmIsNotASiren(t *testing.T) {
	t.Parallel()

	// A smoke alarm in siren cooldown must not fall into the siren rule even
	// though its label ends in "alarm".
	gate := newFakeGate(CategoryLifeSafety, CategoryCritical)
	dec := evalOnce(t, gate, Result{{Label: "Smoke detector, smoke alarm", Score: 0.25}}, -1)
	assert.Equal(t, OutcomeNotify, dec.Outcome)
	assert.Empty(t, gate.recorded)
}

func TestEvaluate_BeepPattern(t *testing.T) {
	t.Parallel()

	result := Result{
		{Label: "Beep, bleep", Score: 0.45},
		{Label: "Smoke detector, smoke alarm", Score: 0.12},
	}
	dec := evalOnce(t, newFakeGate(), result, -1)
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "SMOKE_ALARM_BEEP_PATTERN", dec.Trigger.EmergencyType)

	// Beeping alone, without a smoke detector ranking, falls through to the
	// generic critical-sound rule instead.
	dec = evalOnce(t, newFakeGate(), Result{{Label: "Beep, bleep", Score: 0.45}}, -1)
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "CRITICAL_SOUND", dec.Trigger.EmergencyType)
}

func TestEvaluate_GlassBreak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  Result
		trigger bool
	}{
		{
			name: "glass plus shatter",
			result: Result{
				{Label: "Glass", Score: 0.25},
				{Label: "Shatter", Score: 0.20},
			},
			trigger: true,
		},
		{
			name:    "glass alone",
			result:  Result{{Label: "Glass", Score: 0.25}},
			trigger: false,
		},
		{
			name:    "shatter alone",
			result:  Result{{Label: "Shatter", Score: 0.25}},
			trigger: false,
		},
		{
			name: "glass too weak",
			result: Result{
				{Label: "Glass", Score: 0.15},
				{Label: "Shatter", Score: 0.20},
			},
			trigger: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dec := evalOnce(t, newFakeGate(), tt.result, -1)
			if tt.trigger {
				require.Equal(t, OutcomeTrigger, dec.Outcome)
				assert.Equal(t, "GLASS_BREAK", dec.Trigger.EmergencyType)
				assert.Equal(t, CategoryGlass, dec.Trigger.Cooldown)
			} else {
				assert.NotEqual(t, OutcomeTrigger, dec.Outcome)
			}
		})
	}
}

func TestEvaluate_Gunshots(t *testing.T) {
	t.Parallel()

	neutral := func(n int) Result {
		labels := []string{
			"Whispering", "Rustle", "Typing", "Water", "Rain",
			"Wind", "Sine wave", "Vibration", "Whoosh", "Breathing", "Hum",
		}
		out := make(Result, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, Category{Label: labels[i%len(labels)], Score: 0.05})
		}
		return out
	}

	t.Run("single confident label", func(t *testing.T) {
		t.Parallel()
		dec := evalOnce(t, newFakeGate(), Result{{Label: "Gunshot, gunfire", Score: 0.04}}, -1)
		require.Equal(t, OutcomeTrigger, dec.Outcome)
		assert.Equal(t, "GUNSHOT", dec.Trigger.EmergencyType)
		assert.True(t, dec.Trigger.IsGunshot)
		assert.Equal(t, "GUNSHOT DETECTED! Take immediate action.", dec.Trigger.UserContext)
	})

	t.Run("two weak labels corroborate", func(t *testing.T) {
		t.Parallel()
		result := Result{
			{Label: "Gunshot, gunfire", Score: 0.025},
			{Label: "Machine gun", Score: 0.015},
		}
		dec := evalOnce(t, newFakeGate(), result, -1)
		require.Equal(t, OutcomeTrigger, dec.Outcome)
		assert.Equal(t, "MULTI_LABEL_GUNSHOT", dec.Trigger.EmergencyType)
	})

	t.Run("explosion corroborates", func(t *testing.T) {
		t.Parallel()
		result := Result{
			{Label: "Explosion", Score: 0.10},
			{Label: "Gunshot, gunfire", Score: 0.025},
		}
		dec := evalOnce(t, newFakeGate(), result, -1)
		require.Equal(t, OutcomeTrigger, dec.Outcome)
		assert.Equal(t, "GUN_EXPLOSION", dec.Trigger.EmergencyType)
	})

	t.Run("trace outside the top ten", func(t *testing.T) {
		t.Parallel()
		result := append(neutral(11), Category{Label: "Rifle", Score: 0.025})
		dec := evalOnce(t, newFakeGate(), result, -1)
		require.Equal(t, OutcomeTrigger, dec.Outcome)
		assert.Equal(t, "GUNSHOT_TRACE", dec.Trigger.EmergencyType)
	})

	t.Run("cooldown blocks all gun rules", func(t *testing.T) {
		t.Parallel()
		dec := evalOnce(t, newFakeGate(CategoryGun, CategoryCritical),
			Result{{Label: "Gunshot, gunfire", Score: 0.20}}, -1)
		assert.NotEqual(t, OutcomeTrigger, dec.Outcome)
	})
}

func TestEvaluate_Distress(t *testing.T) {
	t.Parallel()

	dec := evalOnce(t, newFakeGate(), Result{{Label: "Screaming", Score: 0.40}}, -1)
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "DISTRESS", dec.Trigger.EmergencyType)
	assert.Equal(t, CategoryDistress, dec.Trigger.Cooldown)

	// Between the critical and distress thresholds a scream still fires the
	// generic critical-sound rule.
	dec = evalOnce(t, newFakeGate(), Result{{Label: "Screaming", Score: 0.30}}, -1)
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "CRITICAL_SOUND", dec.Trigger.EmergencyType)

	// A barely audible scream only enters history.
	dec = evalOnce(t, newFakeGate(), Result{{Label: "Screaming", Score: 0.08}}, -1)
	assert.Equal(t, OutcomeNotify, dec.Outcome)
}

func TestEvaluate_ImpulseFusion(t *testing.T) {
	t.Parallel()

	t.Run("corroborated verdict triggers", func(t *testing.T) {
		t.Parallel()
		result := Result{
			{Label: "Whispering", Score: 0.50},
			{Label: "Thud", Score: 0.08},
		}
		dec := evalOnce(t, newFakeGate(), result, 0.90)
		require.Equal(t, OutcomeTrigger, dec.Outcome)
		assert.Equal(t, "GUNSHOT_MODEL", dec.Trigger.EmergencyType)
		assert.Equal(t, "Gunshot (Custom)", dec.Trigger.Label)
		assert.InDelta(t, 0.90, dec.Trigger.Confidence, 1e-9)
		assert.True(t, dec.Trigger.IsGunshot)
	})

	t.Run("uncorroborated verdict is ignored", func(t *testing.T) {
		t.Parallel()
		dec := evalOnce(t, newFakeGate(), Result{{Label: "Whispering", Score: 0.50}}, 0.90)
		assert.Equal(t, OutcomeNotify, dec.Outcome)
	})

	t.Run("negative probability means no model", func(t *testing.T) {
		t.Parallel()
		result := Result{
			{Label: "Whispering", Score: 0.50},
			{Label: "Thud", Score: 0.08},
		}
		dec := evalOnce(t, newFakeGate(), result, -1)
		assert.Equal(t, OutcomeNotify, dec.Outcome)
	})
}

func TestEvaluate_IgnoredTopLabelSkips(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{}, newFakeGate())
	dec := engine.Evaluate(Result{{Label: "Music", Score: 0.90}}, -1, time.Now())
	assert.Equal(t, OutcomeSkip, dec.Outcome)
	assert.Equal(t, 0, engine.History().Len())
}

func TestEvaluate_CriticalThreshold(t *testing.T) {
	t.Parallel()

	// "knock" carries a 0.3 threshold in the sensitivity table.
	dec := evalOnce(t, newFakeGate(), Result{{Label: "Knock", Score: 0.35}}, -1)
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "CRITICAL_SOUND", dec.Trigger.EmergencyType)

	dec = evalOnce(t, newFakeGate(), Result{{Label: "Knock", Score: 0.25}}, -1)
	assert.Equal(t, OutcomeNotify, dec.Outcome)
}

func TestEvaluate_SensitivityOverride(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{Sensitivity: map[string]float64{"knock": 0.6}}, newFakeGate())
	dec := engine.Evaluate(Result{{Label: "Knock", Score: 0.35}}, -1, time.Now())
	assert.Equal(t, OutcomeNotify, dec.Outcome)
}

func TestEvaluate_DistressPattern(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{}, newFakeGate())
	result := Result{
		{Label: "Whispering", Score: 0.50},
		{Label: "Screaming", Score: 0.20},
	}

	// First pass only enters history.
	dec := engine.Evaluate(result, -1, time.Now())
	assert.Equal(t, OutcomeNotify, dec.Outcome)

	// Second pass: two distress entries plus distress in the current top 5.
	dec = engine.Evaluate(result, -1, time.Now())
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "DISTRESS_REPEATED", dec.Trigger.EmergencyType)
	assert.Equal(t, CategoryPattern, dec.Trigger.Cooldown)

	// Third pass reaches the stronger repeated-distress rule.
	dec = engine.Evaluate(result, -1, time.Now())
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "DISTRESS_PATTERN_3", dec.Trigger.EmergencyType)
}

func TestEvaluate_ConsecutiveCriticalPattern(t *testing.T) {
	t.Parallel()

	// Knock at 0.25 is critical but below its 0.3 threshold, so each pass
	// lands in history without firing the fallback rule.
	engine := NewEngine(Config{}, newFakeGate())
	result := Result{{Label: "Knock", Score: 0.25}}

	for i := 0; i < 4; i++ {
		dec := engine.Evaluate(result, -1, time.Now())
		assert.Equal(t, OutcomeNotify, dec.Outcome, "pass %d", i)
	}
	dec := engine.Evaluate(result, -1, time.Now())
	require.Equal(t, OutcomeTrigger, dec.Outcome)
	assert.Equal(t, "CONSECUTIVE_5_CRITICAL", dec.Trigger.EmergencyType)
	assert.Equal(t, CategoryPattern, dec.Trigger.Cooldown)
}

func TestEvaluate_EmptyResult(t *testing.T) {
	t.Parallel()

	dec := evalOnce(t, newFakeGate(), Result{}, -1)
	assert.Equal(t, OutcomeSkip, dec.Outcome)
}

func TestTriggerContext_Payload(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(Config{}, newFakeGate())
	dec := engine.Evaluate(Result{
		{Label: "Smoke detector, smoke alarm", Score: 0.60},
		{Label: "Beep, bleep", Score: 0.30},
	}, -1, now)

	require.Equal(t, OutcomeTrigger, dec.Outcome)
	tc := dec.Trigger
	assert.Equal(t, "Smoke detector, smoke alarm", tc.Label)
	assert.InDelta(t, 0.60, tc.Confidence, 1e-9)
	assert.Equal(t, now, tc.Timestamp)
	assert.Len(t, tc.TopCategories, 2)
	assert.Equal(t, "SMOKE_ALARM", tc.Pattern.Reason)
	assert.Contains(t, tc.UserContext, "Critical sound detected")
}

func TestResult_Top(t *testing.T) {
	t.Parallel()

	r := Result{{Label: "a"}, {Label: "b"}, {Label: "c"}}
	assert.Len(t, r.Top(2), 2)
	assert.Len(t, r.Top(10), 3)
	assert.Empty(t, Result{}.Top(5))
}

func TestFormatCategories(t *testing.T) {
	t.Parallel()

	got := formatCategories([]Category{{Label: "Gunshot", Score: 0.25}, {Label: "Blast", Score: 0.1}})
	assert.Equal(t, fmt.Sprintf("%s, %s", "Gunshot(25.0%)", "Blast(10.0%)"), got)
}
