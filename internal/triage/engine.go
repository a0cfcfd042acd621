package triage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soundguardian/sentinel-go/internal/logging"
)

// Category is one ranked classifier prediction.
type Category struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is the full classifier ranking, best score first.
type Result []Category

// Top returns the first n categories, or fewer when the result is short.
func (r Result) Top(n int) Result {
	if len(r) < n {
		n = len(r)
	}
	return r[:n]
}

// Outcome is the rule engine's verdict for one classification pass.
type Outcome int

const (
	// OutcomeSkip means the pass produced nothing worth surfacing.
	OutcomeSkip Outcome = iota
	// OutcomeNotify means a sound was observed but no rule fired.
	OutcomeNotify
	// OutcomeTrigger means a rule fired and escalation should run.
	OutcomeTrigger
)

// Cooldown categories. Each trigger arms the cooldown for its own category
// so a gunshot does not mask a later fire alarm.
const (
	CategoryLifeSafety = "lifesafety"
	CategorySiren      = "siren"
	CategoryGlass      = "glass"
	CategoryGun        = "gun"
	CategoryDistress   = "distress"
	CategoryCritical   = "critical"
	CategoryPattern    = "pattern"
)

// cooldownBypassScore is the confidence above which life-safety sounds and
// sirens trigger even inside their cooldown window.
const cooldownBypassScore = 0.40

// PatternSummary condenses the history for the escalation prompt.
type PatternSummary struct {
	TotalInWindow       int    `json:"totalInWindow"`
	CriticalCount       int    `json:"criticalCount"`
	HighConfidenceCount int    `json:"highConfidenceCount"`
	Reason              string `json:"patternReason,omitempty"`
}

// TriggerContext carries everything the escalation layer needs to reason
// about a detection: the firing label, recent history, pattern summary, and
// the top ranked categories of the pass that fired.
type TriggerContext struct {
	Label         string         `json:"label"`
	Confidence    float64        `json:"confidence"`
	Timestamp     time.Time      `json:"timestamp"`
	IsGunshot     bool           `json:"isGunshot"`
	EmergencyType string         `json:"emergencyType,omitempty"`
	Cooldown      string         `json:"-"`
	History       []HistoryEntry `json:"history"`
	Pattern       PatternSummary `json:"patternAnalysis"`
	TopCategories Result         `json:"topCategories"`
	UserContext   string         `json:"userContext"`
}

// Decision is the outcome of one Evaluate call. Trigger is set only for
// OutcomeTrigger; Top describes the best category for OutcomeNotify.
type Decision struct {
	Outcome Outcome
	Top     Category
	Trigger *TriggerContext
}

// CooldownGate suppresses repeat triggers of the same category. The session
// controller implements it.
type CooldownGate interface {
	InCooldown(category string) bool
	RecordTrigger(category string)
}

// Config tunes the rule engine. Zero values fall back to defaults.
type Config struct {
	HistorySize   int
	Sensitivity   map[string]float64
	IgnoredSounds []string
}

// Engine applies the layered rule cascade. Rules are ordered by severity and
// the first matching rule wins.
type Engine struct {
	history     *History
	gate        CooldownGate
	sensitivity []sensitivityRule
	ignored     []string
	log         *slog.Logger
}

// NewEngine creates a rule engine backed by gate for cooldown decisions.
func NewEngine(cfg Config, gate CooldownGate) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	ignored := cfg.IgnoredSounds
	if len(ignored) == 0 {
		ignored = DefaultIgnoredSounds
	}

	table := make([]sensitivityRule, 0, len(defaultSensitivityTable))
	for _, rule := range defaultSensitivityTable {
		if override, ok := cfg.Sensitivity[rule.Key]; ok {
			rule.Threshold = override
		}
		table = append(table, rule)
	}

	return &Engine{
		history:     NewHistory(cfg.HistorySize),
		gate:        gate,
		sensitivity: table,
		ignored:     ignored,
		log:         logging.ForService("triage"),
	}
}

// History exposes the detection history for status reporting.
func (e *Engine) History() *History {
	return e.history
}

// sensitivityFor returns the trigger threshold for label. The first matching
// table entry wins.
func (e *Engine) sensitivityFor(label string) float64 {
	lower := strings.ToLower(label)
	for _, rule := range e.sensitivity {
		if strings.Contains(lower, rule.Key) {
			return rule.Threshold
		}
	}
	return defaultSensitivity
}

func (e *Engine) isIgnored(label string) bool {
	return containsAny(label, e.ignored)
}

// Evaluate runs the rule cascade over one classifier result. impulseProb is
// the impulse model's probability, or a negative value when the model is
// unavailable. now stamps the history entry and trigger context.
func (e *Engine) Evaluate(result Result, impulseProb float64, now time.Time) Decision {
	if len(result) == 0 {
		return Decision{Outcome: OutcomeSkip}
	}

	top := result[0]
	top10 := result.Top(10)

	// Rule 1: smoke and fire alarms. Highest priority, cooldown bypassed
	// above the bypass score.
	for _, cat := range top10 {
		if cat.Score > 0.15 && containsAny(cat.Label, lifeSafetyLabels) {
			if cat.Score > cooldownBypassScore || !e.gate.InCooldown(CategoryLifeSafety) {
				emergencyType := "FIRE_ALARM"
				if strings.Contains(strings.ToLower(cat.Label), "smoke") {
					emergencyType = "SMOKE_ALARM"
				}
				e.log.Warn("life safety sound detected",
					"label", cat.Label, "score", cat.Score, "type", emergencyType)
				return e.trigger(cat, false, result, emergencyType, CategoryLifeSafety, now)
			}
			break
		}
	}

	// Rule 2: responder sirens. The bare "siren" keyword must not match
	// smoke or fire alarms, those belong to rule 1.
	for _, cat := range top10 {
		lower := strings.ToLower(cat.Label)
		isVehicle := containsAny(cat.Label, emergencyVehicleLabels)
		isSiren := strings.Contains(lower, "siren") &&
			!strings.Contains(lower, "smoke") && !strings.Contains(lower, "fire alarm")
		if cat.Score > 0.15 && (isVehicle || isSiren) {
			if cat.Score > cooldownBypassScore || !e.gate.InCooldown(CategorySiren) {
				emergencyType := "EMERGENCY_SIREN"
				switch {
				case strings.Contains(lower, "police"):
					emergencyType = "POLICE_SIREN"
				case strings.Contains(lower, "ambulance"):
					emergencyType = "AMBULANCE_SIREN"
				case strings.Contains(lower, "fire engine"), strings.Contains(lower, "fire truck"):
					emergencyType = "FIRE_TRUCK_SIREN"
				case strings.Contains(lower, "siren"):
					emergencyType = "SIREN"
				}
				e.log.Warn("siren detected", "label", cat.Label, "score", cat.Score, "type", emergencyType)
				return e.trigger(cat, false, result, emergencyType, CategorySiren, now)
			}
			break
		}
	}

	// Rule 3: beep pattern corroborated by a smoke detector ranking. Catches
	// alarms the classifier hears mostly as beeping.
	topLower := strings.ToLower(top.Label)
	if strings.Contains(topLower, "beep") || strings.Contains(topLower, "bleep") {
		for _, cat := range top10 {
			if containsAny(cat.Label, lifeSafetyLabels) {
				if cat.Score > 0.10 && top.Score > 0.30 && !e.gate.InCooldown(CategoryLifeSafety) {
					e.log.Warn("smoke alarm beep pattern",
						"beepScore", top.Score, "label", cat.Label, "score", cat.Score)
					return e.trigger(cat, false, result, "SMOKE_ALARM_BEEP_PATTERN", CategoryLifeSafety, now)
				}
				break
			}
		}
	}

	// Rule 4: glass breaking. Requires both the exact glass material label
	// and a breaking action label. Either alone is not enough, glass
	// clinking and breaking wood are everyday sounds.
	var glass, bestBreaking *Category
	for i := range top10 {
		cat := &top10[i]
		if strings.ToLower(cat.Label) == glassLabel {
			glass = cat
		}
		if containsAny(cat.Label, breakingLabels) {
			if bestBreaking == nil || cat.Score > bestBreaking.Score {
				bestBreaking = cat
			}
		}
	}
	if glass != nil && bestBreaking != nil && glass.Score > 0.20 && bestBreaking.Score > 0.15 &&
		!e.gate.InCooldown(CategoryGlass) {
		e.log.Warn("glass break detected",
			"glassScore", glass.Score, "breakingLabel", bestBreaking.Label, "breakingScore", bestBreaking.Score)
		return e.trigger(*glass, false, result, "GLASS_BREAK", CategoryGlass, now)
	}

	// Rules 5a-5d: gunshots, most specific evidence first.
	var gunSpecific, gunSupporting []Category
	for _, cat := range top10 {
		if containsAny(cat.Label, gunSpecificLabels) {
			gunSpecific = append(gunSpecific, cat)
		}
		if cat.Score > 0.05 && containsAny(cat.Label, gunSupportingLabels) {
			gunSupporting = append(gunSupporting, cat)
		}
	}
	if !e.gate.InCooldown(CategoryGun) {
		// 5a: one firearm label with meaningful confidence.
		for _, cat := range gunSpecific {
			if cat.Score > 0.03 {
				e.log.Warn("gunshot detected", "label", cat.Label, "score", cat.Score)
				return e.trigger(cat, true, result, "GUNSHOT", CategoryGun, now)
			}
		}
		// 5b: two or more firearm labels at any confidence.
		if len(gunSpecific) >= 2 {
			e.log.Warn("multi-label gunshot", "labels", formatCategories(gunSpecific))
			return e.trigger(gunSpecific[0], true, result, "MULTI_LABEL_GUNSHOT", CategoryGun, now)
		}
		// 5c: a firearm label corroborated by explosion or blast.
		if len(gunSpecific) >= 1 && len(gunSupporting) >= 1 {
			e.log.Warn("gunshot with explosive corroboration",
				"gun", formatCategories(gunSpecific), "supporting", formatCategories(gunSupporting))
			return e.trigger(gunSpecific[0], true, result, "GUN_EXPLOSION", CategoryGun, now)
		}
		// 5d: deep scan of the top 15 for a firearm trace.
		for _, cat := range result.Top(15) {
			if cat.Score > 0.02 && containsAny(cat.Label, gunSpecificLabels) {
				e.log.Warn("gunshot trace", "label", cat.Label, "score", cat.Score)
				return e.trigger(cat, true, result, "GUNSHOT_TRACE", CategoryGun, now)
			}
		}
	}

	// Rule 6: single high-confidence distress call.
	for _, cat := range top10 {
		if cat.Score > 0.35 && containsAny(cat.Label, distressLabels) {
			if !e.gate.InCooldown(CategoryDistress) {
				e.log.Warn("distress detected", "label", cat.Label, "score", cat.Score)
				return e.trigger(cat, false, result, "DISTRESS", CategoryDistress, now)
			}
			break
		}
	}

	// Rule 7: impulse model fusion. The specialist verdict only counts when
	// the general ranking corroborates with an impulsive class in the top
	// 20, otherwise hum and rumble would trip it.
	if impulseProb > 0.75 {
		hasImpulsiveTrace := false
		for _, cat := range result.Top(20) {
			if containsAny(cat.Label, impulsiveKeywords) {
				hasImpulsiveTrace = true
				break
			}
		}
		if hasImpulsiveTrace && !e.gate.InCooldown(CategoryGun) {
			e.log.Warn("impulse model gunshot", "probability", impulseProb, "topLabel", top.Label)
			return e.trigger(Category{Label: "Gunshot (Custom)", Score: impulseProb}, true, result, "GUNSHOT_MODEL", CategoryGun, now)
		}
		if !hasImpulsiveTrace {
			e.log.Debug("impulse model fired without classifier corroboration, ignoring",
				"probability", impulseProb)
		}
	}

	// Ambient top label with no critical signal: drop the pass entirely,
	// it does not enter history.
	if e.isIgnored(top.Label) && !IsCriticalSound(top.Label) {
		return Decision{Outcome: OutcomeSkip}
	}

	// Rule 8: critical top label over its per-sound threshold.
	if IsCriticalSound(top.Label) && top.Score > e.sensitivityFor(top.Label) &&
		!e.gate.InCooldown(CategoryCritical) {
		e.log.Info("critical sound over threshold",
			"label", top.Label, "score", top.Score, "threshold", e.sensitivityFor(top.Label))
		return e.trigger(top, false, result, "CRITICAL_SOUND", CategoryCritical, now)
	}

	// Record the pass before pattern analysis so the current detection
	// counts toward its own pattern.
	var distress *Category
	for i := range top10 {
		if containsAny(top10[i].Label, distressPatternLabels) {
			distress = &top10[i]
			break
		}
	}
	entry := HistoryEntry{
		Label:    top.Label,
		Score:    top.Score,
		Critical: IsCriticalSound(top.Label),
		Time:     now,
	}
	if distress != nil {
		entry.HasDistress = true
		entry.DistressLabel = distress.Label
		entry.DistressScore = distress.Score
	}
	e.history.Append(entry)

	// Rule 9a: repeated distress across the last 10 passes, confidence not
	// required. Screaming rarely tops the ranking but keeps showing up.
	distressInHistory := e.history.DistressCount(10)
	if distressInHistory >= 3 && !e.gate.InCooldown(CategoryPattern) {
		cat := Category{Label: "Screaming (pattern)", Score: 0.1}
		if distress != nil {
			cat = *distress
		}
		e.log.Warn("distress pattern", "occurrences", distressInHistory, "label", cat.Label)
		return e.trigger(cat, false, result,
			fmt.Sprintf("DISTRESS_PATTERN_%d", distressInHistory), CategoryPattern, now)
	}

	// Rule 9b: two recent distress passes plus distress in the current top 5.
	if distressInHistory >= 2 && !e.gate.InCooldown(CategoryPattern) {
		for _, cat := range result.Top(5) {
			if containsAny(cat.Label, distressPatternLabels) {
				e.log.Warn("repeated distress", "label", cat.Label, "score", cat.Score,
					"occurrences", distressInHistory)
				return e.trigger(cat, false, result, "DISTRESS_REPEATED", CategoryPattern, now)
			}
		}
	}

	// Rule 9c: five consecutive critical passes.
	if consecutive := e.history.ConsecutiveCritical(); consecutive >= 5 &&
		!e.gate.InCooldown(CategoryPattern) {
		e.log.Warn("consecutive critical pattern", "count", consecutive)
		return e.trigger(top, false, result,
			fmt.Sprintf("CONSECUTIVE_%d_CRITICAL", consecutive), CategoryPattern, now)
	}

	// Rule 9d: a noisy window, eight or more critical passes out of the
	// last twenty. Not an automatic emergency, escalation decides.
	if critical := e.history.CriticalCount(); critical >= 8 &&
		!e.gate.InCooldown(CategoryPattern) {
		e.log.Info("critical window pattern", "count", critical, "window", e.history.Len())
		return e.trigger(top, false, result,
			fmt.Sprintf("WINDOW_%d_CRITICAL", critical), CategoryPattern, now)
	}

	return Decision{Outcome: OutcomeNotify, Top: top}
}

// trigger assembles the escalation context and arms the cooldown for the
// firing category.
func (e *Engine) trigger(cat Category, isGunshot bool, result Result, emergencyType, cooldown string, now time.Time) Decision {
	e.gate.RecordTrigger(cooldown)

	criticalCount := e.history.CriticalCount()
	highConfCount := e.history.HighConfidenceCount(0.5)

	userContext := fmt.Sprintf(
		"Critical sound detected. %d critical sounds in last %d detections. %d with high confidence (>50%%).",
		criticalCount, e.history.Len(), highConfCount)
	if isGunshot {
		userContext = "GUNSHOT DETECTED! Take immediate action."
	}

	ctx := &TriggerContext{
		Label:         cat.Label,
		Confidence:    cat.Score,
		Timestamp:     now,
		IsGunshot:     isGunshot,
		EmergencyType: emergencyType,
		Cooldown:      cooldown,
		History:       e.history.Entries(),
		Pattern: PatternSummary{
			TotalInWindow:       e.history.Len(),
			CriticalCount:       criticalCount,
			HighConfidenceCount: highConfCount,
			Reason:              emergencyType,
		},
		TopCategories: result.Top(10),
		UserContext:   userContext,
	}
	return Decision{Outcome: OutcomeTrigger, Top: cat, Trigger: ctx}
}

func formatCategories(cats []Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = fmt.Sprintf("%s(%.1f%%)", c.Label, c.Score*100)
	}
	return strings.Join(parts, ", ")
}
