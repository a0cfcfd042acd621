package triage

import (
	"sync"
	"time"
)

// HistoryEntry records one classification pass for pattern analysis. Distress
// is tracked separately from the top label so screaming ranked third still
// counts toward the distress pattern.
type HistoryEntry struct {
	Label         string    `json:"label"`
	Score         float64   `json:"score"`
	Critical      bool      `json:"isCritical"`
	Time          time.Time `json:"time"`
	HasDistress   bool      `json:"hasDistress"`
	DistressLabel string    `json:"distressLabel,omitempty"`
	DistressScore float64   `json:"distressScore"`
}

// History is a bounded FIFO of recent detections. When full, appending
// evicts the oldest entry.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	max     int
}

// NewHistory creates a history keeping at most max entries.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Append adds an entry, evicting the oldest when the history is full.
func (h *History) Append(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
}

// Entries returns a copy of all entries, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops all entries for a fresh start after an episode resolves.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// CriticalCount returns how many stored entries are critical.
func (h *History) CriticalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Critical {
			n++
		}
	}
	return n
}

// HighConfidenceCount returns how many critical entries exceed score.
func (h *History) HighConfidenceCount(score float64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Critical && e.Score > score {
			n++
		}
	}
	return n
}

// ConsecutiveCritical counts the unbroken run of critical entries at the
// tail of the history.
func (h *History) ConsecutiveCritical() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if !h.entries[i].Critical {
			break
		}
		n++
	}
	return n
}

// DistressCount counts entries among the last n whose top label or tracked
// sub-detection is a distress sound.
func (h *History) DistressCount(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	count := 0
	for _, e := range h.entries[start:] {
		if e.HasDistress || containsAny(e.Label, distressPatternLabels) {
			count++
		}
	}
	return count
}
