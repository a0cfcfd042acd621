package analysis

import (
	"time"

	"github.com/soundguardian/sentinel-go/internal/session"
)

// RiskLevel grades the recent sound environment.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// SafetyStatus is a point-in-time snapshot of the monitor for status
// queries.
type SafetyStatus struct {
	Time           time.Time      `json:"time"`
	Session        session.Status `json:"session"`
	Risk           RiskLevel      `json:"risk"`
	Summary        string         `json:"summary"`
	HistorySize    int            `json:"historySize"`
	CriticalCount  int            `json:"criticalCount"`
	AlertsRecorded int            `json:"alertsRecorded"`
}

// Status summarizes the monitor's current state. The risk level follows the
// critical-sound density of the detection history.
func (p *Pipeline) Status(alertsRecorded int) SafetyStatus {
	critical := p.deps.Engine.History().CriticalCount()

	risk := RiskSafe
	summary := "Environment appears safe - Monitoring active"
	switch {
	case critical >= 8:
		risk = RiskHigh
		summary = "High alert - Many critical sounds detected recently"
	case critical >= 3:
		risk = RiskElevated
		summary = "Elevated alertness - Multiple critical sounds detected recently"
	}

	return SafetyStatus{
		Time:           time.Now(),
		Session:        p.deps.Sessions.Snapshot(),
		Risk:           risk,
		Summary:        summary,
		HistorySize:    p.deps.Engine.History().Len(),
		CriticalCount:  critical,
		AlertsRecorded: alertsRecorded,
	}
}
