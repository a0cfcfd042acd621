package alert

import "sync"

// Log is a bounded in-memory record of alert delivery attempts, newest
// last. When full, appending evicts the oldest entry.
type Log struct {
	mu      sync.Mutex
	entries []Alert
	max     int
}

// NewLog creates a log keeping at most max entries.
func NewLog(max int) *Log {
	if max <= 0 {
		max = 50
	}
	return &Log{max: max}
}

// Append records an alert attempt.
func (l *Log) Append(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, a)
	if len(l.entries) > l.max {
		l.entries = l.entries[1:]
	}
}

// Entries returns a copy of all recorded alerts, oldest first.
func (l *Log) Entries() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Alert, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded alerts.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
