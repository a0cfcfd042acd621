package events

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no consumer goroutine outlives its bus.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}
