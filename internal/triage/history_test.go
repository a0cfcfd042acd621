package triage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistory_BoundedAppend(t *testing.T) {
	t.Parallel()

	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(HistoryEntry{Label: fmt.Sprintf("sound-%d", i), Time: time.Now()})
	}

	assert.Equal(t, 3, h.Len())
	entries := h.Entries()
	assert.Equal(t, "sound-2", entries[0].Label)
	assert.Equal(t, "sound-4", entries[2].Label)
}

func TestHistory_Clear(t *testing.T) {
	t.Parallel()

	h := NewHistory(5)
	h.Append(HistoryEntry{Label: "Knock"})
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Entries())
}

func TestHistory_CriticalCounts(t *testing.T) {
	t.Parallel()

	h := NewHistory(10)
	h.Append(HistoryEntry{Label: "Knock", Critical: true, Score: 0.6})
	h.Append(HistoryEntry{Label: "Whispering", Score: 0.9})
	h.Append(HistoryEntry{Label: "Alarm", Critical: true, Score: 0.3})

	assert.Equal(t, 2, h.CriticalCount())
	assert.Equal(t, 1, h.HighConfidenceCount(0.5))
}

func TestHistory_ConsecutiveCritical(t *testing.T) {
	t.Parallel()

	h := NewHistory(10)
	assert.Equal(t, 0, h.ConsecutiveCritical())

	h.Append(HistoryEntry{Critical: true})
	h.Append(HistoryEntry{Critical: false})
	h.Append(HistoryEntry{Critical: true})
	h.Append(HistoryEntry{Critical: true})

	// Only the unbroken run at the tail counts.
	assert.Equal(t, 2, h.ConsecutiveCritical())
}

func TestHistory_DistressCount(t *testing.T) {
	t.Parallel()

	h := NewHistory(20)
	// Distress tracked as a sub-detection.
	h.Append(HistoryEntry{Label: "Whispering", HasDistress: true, DistressLabel: "Screaming"})
	// Distress as the top label itself.
	h.Append(HistoryEntry{Label: "Screaming"})
	h.Append(HistoryEntry{Label: "Knock"})

	assert.Equal(t, 2, h.DistressCount(10))
	// A window of one only sees the knock.
	assert.Equal(t, 0, h.DistressCount(1))
}

func TestIsCriticalSound(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCriticalSound("Gunshot, gunfire"))
	assert.True(t, IsCriticalSound("Smoke detector, smoke alarm"))
	assert.True(t, IsCriticalSound("GLASS"))
	assert.False(t, IsCriticalSound("Whispering"))
	assert.False(t, IsCriticalSound("Music"))
}

func TestIsDistressSound(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDistressSound("Screaming"))
	assert.True(t, IsDistressSound("Wail, moan"))
	assert.False(t, IsDistressSound("Laughter"))
}
