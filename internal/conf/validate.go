// validate.go: settings validation.
package conf

import (
	"slices"
	"strings"

	"github.com/soundguardian/sentinel-go/internal/errors"
)

var validEscalationProviders = []string{"anthropic", "openai", "gemini", "ollama"}

// ValidateSettings checks that the loaded settings form a coherent
// configuration. It returns a joined error listing every failure found.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Classifier.ModelPath == "" {
		errs = append(errs, errors.Newf("classifier.modelpath must not be empty").
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	if settings.Triage.HistorySize <= 0 {
		errs = append(errs, errors.Newf("triage.historysize must be positive, got %d", settings.Triage.HistorySize).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	if settings.Triage.RunIntervalSamples <= 0 {
		errs = append(errs, errors.Newf("triage.runintervalsamples must be positive, got %d", settings.Triage.RunIntervalSamples).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	if settings.Session.CooldownSeconds < 0 {
		errs = append(errs, errors.Newf("session.cooldownseconds must not be negative, got %d", settings.Session.CooldownSeconds).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	if settings.Escalation.Enabled {
		provider := strings.ToLower(settings.Escalation.Provider)
		if !slices.Contains(validEscalationProviders, provider) {
			errs = append(errs, errors.Newf("escalation.provider %q is not supported; supported: %s",
				settings.Escalation.Provider, strings.Join(validEscalationProviders, ", ")).
				Component("configuration").
				Category(errors.CategoryValidation).
				Build())
		}
		if settings.Escalation.Model == "" {
			errs = append(errs, errors.Newf("escalation.model must not be empty when escalation is enabled").
				Component("configuration").
				Category(errors.CategoryValidation).
				Build())
		}
	}

	if settings.Alert.Enabled && len(settings.Alert.URLs) == 0 {
		errs = append(errs, errors.Newf("alert.urls must contain at least one delivery URL when alerts are enabled").
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		errs = append(errs, errors.Newf("mqtt.broker must not be empty when MQTT is enabled").
			Component("configuration").
			Category(errors.CategoryValidation).
			Build())
	}

	return errors.Join(errs...)
}
