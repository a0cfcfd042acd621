// Package audio acquires audio frames from a capture device or a WAV file
// and maintains the sliding one-second analysis window consumed by the
// classifier.
package audio

import "math"

// SlidingWindow is a fixed-size buffer over the most recent samples. New
// frames slide in at the tail and the oldest samples fall off the head, so
// the window always holds exactly its capacity (zero-padded before the first
// full fill).
type SlidingWindow struct {
	buf []float32
}

// NewSlidingWindow creates a window holding size samples.
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{buf: make([]float32, size)}
}

// Push slides frame into the window and returns the RMS of the incoming
// frame alone. The frame RMS, not the window RMS, is the impulsiveness
// signal: it reacts to the newest tens of milliseconds while the window
// content feeds classification.
func (w *SlidingWindow) Push(frame []float32) float64 {
	size := len(w.buf)
	if len(frame) >= size {
		copy(w.buf, frame[len(frame)-size:])
	} else {
		copy(w.buf, w.buf[len(frame):])
		copy(w.buf[size-len(frame):], frame)
	}
	return RMS(frame)
}

// Snapshot returns a copy of the window contents, oldest sample first.
func (w *SlidingWindow) Snapshot() []float32 {
	out := make([]float32, len(w.buf))
	copy(out, w.buf)
	return out
}

// Size returns the window capacity in samples.
func (w *SlidingWindow) Size() int {
	return len(w.buf)
}

// Reset zeroes the window contents.
func (w *SlidingWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// RMS computes the root mean square of samples. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
