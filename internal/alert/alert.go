// Package alert delivers emergency notifications to the user's contacts
// through shoutrrr service URLs and keeps a bounded log of delivery
// attempts.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Severity grades an alert for the receiving contact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Heading returns the alert heading for a severity level.
func (s Severity) Heading() string {
	switch s {
	case SeverityLow:
		return "Info"
	case SeverityMedium:
		return "Warning"
	case SeverityHigh:
		return "ALERT"
	case SeverityCritical:
		return "EMERGENCY"
	default:
		return "ALERT"
	}
}

// SeverityForTrigger grades a trigger by its cooldown category. Gunshots
// and life-safety alarms are always critical.
func SeverityForTrigger(tc *triage.TriggerContext) Severity {
	if tc.IsGunshot {
		return SeverityCritical
	}
	switch tc.Cooldown {
	case triage.CategoryLifeSafety:
		return SeverityCritical
	case triage.CategorySiren, triage.CategoryGlass, triage.CategoryDistress:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Alert is one delivery attempt, recorded in the alert log.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	SoundType string    `json:"soundType,omitempty"`
	Message   string    `json:"message"`
	Contacts  []string  `json:"contacts,omitempty"`
	Status    string    `json:"status"`
}

// NewAlert builds an alert with a fresh ID and timestamp.
func NewAlert(severity Severity, soundType, message string, contacts []string) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Severity:  severity,
		SoundType: soundType,
		Message:   message,
		Contacts:  contacts,
	}
}

// FormatMessage renders the notification body sent to contacts. appName
// brands the heading, location is optional.
func FormatMessage(appName string, a *Alert, location string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s Alert\n\n", a.Severity.Heading(), appName)
	b.WriteString(a.Message)
	b.WriteString("\n")
	if a.SoundType != "" {
		fmt.Fprintf(&b, "\nSound Detected: %s", a.SoundType)
	}
	if location != "" {
		fmt.Fprintf(&b, "\nLocation: %s", location)
	}
	fmt.Fprintf(&b, "\nTime: %s\n", a.Timestamp.Format("2006-01-02 15:04:05"))
	if a.Severity == SeverityCritical {
		b.WriteString("\nIMMEDIATE ACTION REQUIRED!")
	} else {
		b.WriteString("\nPlease check on the user.")
	}
	return b.String()
}
