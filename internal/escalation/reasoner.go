// Package escalation confirms detection triggers before alerts go out. A
// reasoning model reviews the trigger context and returns a verdict; the
// dispatcher fences stale verdicts by session and guarantees at most one
// alert per episode.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Verdict is the reasoning service's judgment of a trigger.
type Verdict struct {
	Emergency      bool   `json:"emergency"`
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
}

// Reasoner reviews a trigger and decides whether it is a real emergency.
type Reasoner interface {
	Verify(ctx context.Context, tc *triage.TriggerContext) (*Verdict, error)
}

// RateLimitError reports that the reasoning service throttled the request.
// RetryAfter is the server's suggested wait, or zero when unknown.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("reasoning service rate limited, retry after %s", e.RetryAfter)
	}
	return "reasoning service rate limited"
}
