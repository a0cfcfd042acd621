// config.go: settings struct and functions to load and save the settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/soundguardian/sentinel-go/internal/errors"
)

// LogSettings contains settings for a file-backed service log.
type LogSettings struct {
	Enabled bool   // true to enable file logging
	Path    string // path to log file
	MaxSize int64  // maximum log file size in bytes before rotation
}

// MainSettings contains application-wide settings.
type MainSettings struct {
	Name string      // name of this monitoring node
	Log  LogSettings // main log settings
}

// AudioSettings contains settings for audio capture.
type AudioSettings struct {
	Source string // capture device name, "sysdefault" for system default
}

// ClassifierSettings contains settings for the classification models.
type ClassifierSettings struct {
	ModelPath        string  // path to the general sound classifier model
	LabelPath        string  // path to the label file for the general model
	ImpulseModelPath string  // path to the impulsive-sound model, empty to disable
	Threads          int     // number of inference threads, 0 for all cores
	Sensitivity      float64 // score scaling factor applied to model output, 1.0 for none
}

// TriageSettings contains settings for the detection rule engine.
type TriageSettings struct {
	ImpulseRMSThreshold float64            // frame RMS above which a cycle runs immediately
	RunIntervalSamples  int                // samples between scheduled classification cycles
	HistorySize         int                // rolling detection history capacity
	Sensitivity         map[string]float64 // per-category threshold overrides, keyword -> threshold
	IgnoredSounds       []string           // extra label substrings to ignore
}

// SessionSettings contains settings for trigger cooldowns and pauses.
type SessionSettings struct {
	CooldownSeconds int // minimum spacing between triggers of one category
	PauseHours      int // default pause duration after a confirmed emergency
}

// EscalationSettings contains settings for the reasoning service used to
// confirm emergencies.
type EscalationSettings struct {
	Enabled   bool   // false disables external confirmation, triggers surface as unverified
	Provider  string // llm provider: "anthropic", "openai", "gemini", "ollama"
	Model     string // model name, e.g. "claude-3-5-haiku-latest"
	APIKey    string // api key, falls back to the provider's environment variable
	MaxTokens int    // response token budget
}

// AlertSettings contains settings for emergency alert delivery.
type AlertSettings struct {
	Enabled        bool     // true to deliver alerts to contacts
	URLs           []string // shoutrrr service URLs to deliver through
	Contacts       []string // contact names included in the alert body
	TimeoutSeconds int      // per-delivery timeout
	LogSize        int      // bounded in-memory alert log capacity
}

// MQTTSettings contains settings for publishing detection events to a broker.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // broker URL, e.g. tcp://localhost:1883
	Topic    string // topic to publish detection events to
	Username string // broker username
	Password string // broker password
}

// TelemetrySettings contains settings for the Prometheus metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose metrics
	Listen  string // listen address and port, e.g. "0.0.0.0:8090"
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   // true to report enhanced errors to Sentry
	DSN     string // sentry DSN
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug bool // true to enable debug output

	Main       MainSettings
	Audio      AudioSettings
	Classifier ClassifierSettings
	Triage     TriageSettings
	Session    SessionSettings
	Escalation EscalationSettings
	Alert      AlertSettings
	MQTT       MQTTSettings
	Telemetry  TelemetrySettings
	Sentry     SentrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		panic(fmt.Sprintf("error loading settings: %v", err))
	}
	return settings
}

// Load reads the configuration file and environment variables into a
// Settings struct and stores it as the current instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes a config file with default values to the first
// default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	defaults, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}
	if err := os.WriteFile(configPath, defaults, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the OS-specific list of config directories.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "sentinel-go"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "sentinel-go"),
			"/etc/sentinel-go",
		}
	}

	// If a config.yaml already exists somewhere, prefer that path alone.
	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}
