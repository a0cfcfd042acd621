// Package classifier runs the TensorFlow Lite models over audio windows.
// A general sound classifier ranks hundreds of sound classes; an optional
// impulse model scores its class vector for gunshot-like impulses.
package classifier

import (
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Classification is the result of one inference pass. Ranked holds the
// predictions sorted by score, Scores the raw per-class vector in label
// index order for downstream models.
type Classification struct {
	Ranked triage.Result
	Scores []float32
}

// SoundModel classifies an audio window into ranked sound classes.
type SoundModel interface {
	Classify(samples []float32) (*Classification, error)
	NumClasses() int
	Close()
}

// ImpulseModel scores a class vector for impulsive-sound probability.
type ImpulseModel interface {
	Probability(scores []float32) (float64, error)
	Close()
}
