// Package file implements offline analysis of WAV recordings.
package file

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundguardian/sentinel-go/internal/alert"
	"github.com/soundguardian/sentinel-go/internal/analysis"
	"github.com/soundguardian/sentinel-go/internal/audio"
	"github.com/soundguardian/sentinel-go/internal/classifier"
	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/escalation"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/session"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Command creates the file command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [input.wav]",
		Short: "Analyze a recorded audio file",
		Long:  "Run the detection pipeline over a 16 kHz WAV file and print every detection and trigger. Alerts are never delivered in file mode.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeFileAnalysis(settings, args[0])
		},
	}
	cmd.Flags().BoolVar(&settings.Escalation.Enabled, "verify", viper.GetBool("escalation.enabled"), "Verify triggers with the reasoning service")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func executeFileAnalysis(settings *conf.Settings, path string) error {
	sound, err := classifier.NewTFLiteSoundModel(&settings.Classifier)
	if err != nil {
		return err
	}
	defer sound.Close()

	var impulse classifier.ImpulseModel
	if settings.Classifier.ImpulseModelPath != "" {
		if im, imErr := classifier.NewTFLiteImpulseModel(&settings.Classifier); imErr == nil {
			impulse = im
			defer im.Close()
		}
	}

	bus := events.NewBus()
	defer bus.Shutdown()
	bus.Register(&consolePrinter{})

	sessions := session.NewController(time.Duration(settings.Session.CooldownSeconds) * time.Second)
	engine := triage.NewEngine(triage.Config{
		HistorySize:   settings.Triage.HistorySize,
		Sensitivity:   settings.Triage.Sensitivity,
		IgnoredSounds: settings.Triage.IgnoredSounds,
	}, sessions)

	// File analysis never delivers alerts.
	alertCfg := settings.Alert
	alertCfg.Enabled = false
	alerts, err := alert.NewService(settings.Main.Name, &alertCfg)
	if err != nil {
		return err
	}

	var reasoner escalation.Reasoner
	if settings.Escalation.Enabled {
		if r, rErr := escalation.NewLLMReasoner(&settings.Escalation); rErr == nil {
			reasoner = r
		} else {
			fmt.Printf("reasoning service unavailable: %v\n", rErr)
		}
	}
	dispatcher := escalation.NewDispatcher(reasoner, sessions, alerts, bus)

	pipeline := analysis.New(settings, analysis.Deps{
		Sound:      sound,
		Impulse:    impulse,
		Engine:     engine,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Bus:        bus,
	})

	fmt.Printf("Analyzing %s\n", path)
	start := time.Now()
	if err := audio.ReadWAVFrames(path, conf.FrameSamples, func(frame []float32) error {
		pipeline.ProcessFrameSync(frame)
		return nil
	}); err != nil {
		return err
	}
	dispatcher.Wait()

	status := pipeline.Status(alerts.Log().Len())
	fmt.Printf("Analysis completed in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Risk: %s - %s\n", status.Risk, status.Summary)
	return nil
}

// consolePrinter prints pipeline events to stdout.
type consolePrinter struct{}

func (c *consolePrinter) Name() string { return "console" }

func (c *consolePrinter) Handle(event events.Event) {
	switch ev := event.(type) {
	case events.DetectionEvent:
		fmt.Printf("%s  %-30s %5.1f%%\n",
			ev.Time.Format("15:04:05"), ev.Label, ev.Confidence*100)
	case events.TriggerEvent:
		fmt.Printf("%s  TRIGGER %s: %s (%.1f%%)\n",
			ev.Time.Format("15:04:05"), ev.Context.EmergencyType, ev.Context.Label, ev.Context.Confidence*100)
	case events.VerdictEvent:
		fmt.Printf("%s  VERDICT %s: %s\n",
			ev.Time.Format("15:04:05"), ev.Outcome, ev.Reason)
	}
}
