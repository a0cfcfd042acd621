// Package triage turns ranked classifier output into detection decisions.
// A layered rule cascade checks life-safety sounds first, then break-in and
// gunshot signatures, then distress calls, and finally falls back to
// per-category confidence thresholds and short-term pattern analysis.
package triage

import "strings"

// lifeSafetyLabels match smoke and fire alarms. These bypass the trigger
// cooldown at high confidence.
var lifeSafetyLabels = []string{"smoke detector", "smoke alarm", "fire alarm"}

// emergencyVehicleLabels match responder sirens. The bare "siren" keyword is
// checked separately so it cannot match "smoke alarm".
var emergencyVehicleLabels = []string{"police car", "ambulance", "emergency vehicle", "fire engine", "fire truck"}

// breakingLabels indicate a breaking action, as opposed to the glass
// material itself. Glass breaking requires both.
var breakingLabels = []string{"shatter", "breaking", "smash", "crash"}

const glassLabel = "glass"

// gunSpecificLabels are unambiguous firearm classes. Generic words like
// "bang" or "pop" are deliberately excluded.
var gunSpecificLabels = []string{
	"gunshot", "gunfire", "machine gun", "firearm",
	"rifle", "pistol", "artillery", "fusillade", "cap gun",
}

// gunSupportingLabels often accompany gunshots and corroborate a weak
// firearm match.
var gunSupportingLabels = []string{"explosion", "blast"}

// distressLabels match vocal distress for the single-shot rule.
var distressLabels = []string{"scream", "screaming", "shout", "yell", "shriek", "cry"}

// distressPatternLabels extend distressLabels for history tracking.
var distressPatternLabels = []string{"scream", "screaming", "shout", "yell", "shriek", "cry", "wail"}

// impulsiveKeywords corroborate the impulse model. Its verdict is only
// trusted when the general classifier also ranks an impulsive class.
var impulsiveKeywords = []string{
	"gun", "shot", "bang", "pop", "explosion", "blast", "crack", "thud",
	"slam", "impact", "punch", "hit", "clap", "snap", "burst", "drum", "percussion",
}

// criticalSounds mark a detection as worth tracking in history and eligible
// for the per-category threshold rule.
var criticalSounds = []string{
	"glass", "break", "shatter", "smash", "crash", "crunch",
	"fire alarm", "smoke detector", "siren", "emergency", "alarm", "bell", "buzzer",
	"scream", "shout", "yell", "cry", "shriek",
	"car horn", "doorbell", "door knock", "knock", "telephone",
	"gunshot", "shot", "gunfire", "machine gun", "fusillade",
	"artillery", "cap gun", "firearm", "rifle", "pistol",
	"explosion", "blast", "bang", "boom", "pop", "thud", "slam", "hit", "punch",
	"fire", "crackle", "sizzle",
	"dog bark", "bark", "growl", "howl",
	"whistle", "horn", "honk", "beep", "squeak", "squeal",
	"clap", "clapping", "applause", "hands",
}

// DefaultIgnoredSounds are ambient classes skipped when they top the ranking
// without also being critical.
var DefaultIgnoredSounds = []string{
	"silence", "noise", "music", "speech", "child speech",
	"animal", "bird", "inside", "outside", "static", "cacophony",
}

// sensitivityRule pairs a label substring with its trigger threshold. The
// table is ordered: the first matching substring wins, so "shot" must come
// before broader keys it could shadow.
type sensitivityRule struct {
	Key       string
	Threshold float64
}

const defaultSensitivity = 0.1

// defaultSensitivityTable holds the per-sound confidence thresholds for the
// critical-sound fallback rule.
var defaultSensitivityTable = []sensitivityRule{
	{"gun", 0.05},
	{"shot", 0.05},
	{"firearm", 0.05},
	{"glass", 0.35},
	{"shatter", 0.35},
	{"break", 0.30},
	{"alarm", 0.1},
	{"siren", 0.1},
	{"clap", 0.25},
	{"applause", 0.25},
	{"knock", 0.3},
}

func containsAny(label string, keywords []string) bool {
	lower := strings.ToLower(label)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// IsCriticalSound reports whether label matches any critical sound class.
func IsCriticalSound(label string) bool {
	return containsAny(label, criticalSounds)
}

// IsDistressSound reports whether label matches a distress class, including
// the wider pattern set.
func IsDistressSound(label string) bool {
	return containsAny(label, distressPatternLabels)
}
