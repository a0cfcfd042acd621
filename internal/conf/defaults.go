// defaults.go: default values for each configuration parameter.
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers the default value for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "SentinelGo")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "sentinel.log")
	viper.SetDefault("main.log.maxsize", 104857600)

	// Audio capture
	viper.SetDefault("audio.source", "sysdefault")

	// Classifier
	viper.SetDefault("classifier.modelpath", "models/yamnet.tflite")
	viper.SetDefault("classifier.labelpath", "models/yamnet_labels.txt")
	viper.SetDefault("classifier.impulsemodelpath", "models/impulse.tflite")
	viper.SetDefault("classifier.threads", 0)
	viper.SetDefault("classifier.sensitivity", 1.0)

	// Triage
	viper.SetDefault("triage.impulsermsthreshold", 0.05)
	viper.SetDefault("triage.runintervalsamples", 4000)
	viper.SetDefault("triage.historysize", 20)
	viper.SetDefault("triage.sensitivity", map[string]float64{})
	viper.SetDefault("triage.ignoredsounds", []string{})

	// Session
	viper.SetDefault("session.cooldownseconds", 10)
	viper.SetDefault("session.pausehours", 3)

	// Escalation
	viper.SetDefault("escalation.enabled", true)
	viper.SetDefault("escalation.provider", "anthropic")
	viper.SetDefault("escalation.model", "claude-3-5-haiku-latest")
	viper.SetDefault("escalation.apikey", "")
	viper.SetDefault("escalation.maxtokens", 256)

	// Alert delivery
	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.urls", []string{})
	viper.SetDefault("alert.contacts", []string{})
	viper.SetDefault("alert.timeoutseconds", 15)
	viper.SetDefault("alert.logsize", 50)

	// MQTT
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "sentinel/detections")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
