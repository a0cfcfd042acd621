package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Classifier.ModelPath = "models/sound.tflite"
	s.Triage.HistorySize = 20
	s.Triage.RunIntervalSamples = FrameSamples
	s.Session.CooldownSeconds = 10
	return s
}

func TestValidateSettings_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettings_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantMsg string
	}{
		{
			name:    "missing model path",
			mutate:  func(s *Settings) { s.Classifier.ModelPath = "" },
			wantMsg: "classifier.modelpath",
		},
		{
			name:    "non-positive history size",
			mutate:  func(s *Settings) { s.Triage.HistorySize = 0 },
			wantMsg: "triage.historysize",
		},
		{
			name:    "non-positive run interval",
			mutate:  func(s *Settings) { s.Triage.RunIntervalSamples = -1 },
			wantMsg: "triage.runintervalsamples",
		},
		{
			name:    "negative cooldown",
			mutate:  func(s *Settings) { s.Session.CooldownSeconds = -1 },
			wantMsg: "session.cooldownseconds",
		},
		{
			name: "unsupported escalation provider",
			mutate: func(s *Settings) {
				s.Escalation.Enabled = true
				s.Escalation.Provider = "mystery"
				s.Escalation.Model = "some-model"
			},
			wantMsg: "escalation.provider",
		},
		{
			name: "escalation without model",
			mutate: func(s *Settings) {
				s.Escalation.Enabled = true
				s.Escalation.Provider = "anthropic"
				s.Escalation.Model = ""
			},
			wantMsg: "escalation.model",
		},
		{
			name: "alerts without urls",
			mutate: func(s *Settings) {
				s.Alert.Enabled = true
				s.Alert.URLs = nil
			},
			wantMsg: "alert.urls",
		},
		{
			name: "mqtt without broker",
			mutate: func(s *Settings) {
				s.MQTT.Enabled = true
				s.MQTT.Broker = ""
			},
			wantMsg: "mqtt.broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateSettings_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Classifier.ModelPath = ""
	s.Triage.HistorySize = 0

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier.modelpath")
	assert.Contains(t, err.Error(), "triage.historysize")
}

func TestEscalationProviderIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Escalation.Enabled = true
	s.Escalation.Provider = "Anthropic"
	s.Escalation.Model = "some-model"
	assert.NoError(t, ValidateSettings(s))
}
