// Package monitor implements the realtime monitoring command.
package monitor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundguardian/sentinel-go/internal/alert"
	"github.com/soundguardian/sentinel-go/internal/analysis"
	"github.com/soundguardian/sentinel-go/internal/audio"
	"github.com/soundguardian/sentinel-go/internal/classifier"
	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/escalation"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/logging"
	"github.com/soundguardian/sentinel-go/internal/mqtt"
	"github.com/soundguardian/sentinel-go/internal/observability"
	"github.com/soundguardian/sentinel-go/internal/session"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// Command creates the monitor command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor ambient audio for emergencies in realtime",
		Long:  "Capture audio from the configured source and watch for emergency sounds. Confirmed emergencies alert the configured contacts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunMonitor(settings)
		},
	}
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture source (\"sysdefault\", \"USB Audio\", \":0,0\", etc.)")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")
	cmd.Flags().BoolVar(&settings.Escalation.Enabled, "verify", viper.GetBool("escalation.enabled"), "Verify triggers with the reasoning service before alerting")
	return viper.BindPFlags(cmd.Flags())
}

// RunMonitor assembles the pipeline and runs until interrupted. SIGHUP
// raises a manual emergency, mirroring a panic-button press.
func RunMonitor(settings *conf.Settings) error {
	log := logging.ForService("monitor")

	if settings.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: settings.Sentry.DSN}); err != nil {
			log.Warn("sentry init failed, continuing without telemetry", "error", err)
		} else {
			errors.SetTelemetryReporter(errors.NewSentryReporter(true))
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Models.
	sound, err := classifier.NewTFLiteSoundModel(&settings.Classifier)
	if err != nil {
		return err
	}
	defer sound.Close()

	var impulse classifier.ImpulseModel
	if settings.Classifier.ImpulseModelPath != "" {
		im, imErr := classifier.NewTFLiteImpulseModel(&settings.Classifier)
		if imErr != nil {
			log.Warn("impulse model unavailable, continuing without it", "error", imErr)
		} else {
			impulse = im
			defer im.Close()
		}
	}

	// Event bus and consumers.
	bus := events.NewBus()
	defer bus.Shutdown()

	var metrics *observability.Metrics
	if settings.Telemetry.Enabled {
		registry := prometheus.NewRegistry()
		m, mErr := observability.NewMetrics(registry)
		if mErr != nil {
			return mErr
		}
		metrics = m
		bus.Register(metrics)

		srv := observability.NewServer(settings.Telemetry.Listen, registry)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if settings.MQTT.Enabled {
		pub, pubErr := mqtt.NewPublisher(settings.Main.Name, &settings.MQTT)
		if pubErr != nil {
			log.Warn("mqtt publisher unavailable, continuing without it", "error", pubErr)
		} else {
			bus.Register(pub)
			defer pub.Close()
		}
	}

	// Session, triage, escalation.
	sessions := session.NewController(time.Duration(settings.Session.CooldownSeconds) * time.Second)
	engine := triage.NewEngine(triage.Config{
		HistorySize:   settings.Triage.HistorySize,
		Sensitivity:   settings.Triage.Sensitivity,
		IgnoredSounds: settings.Triage.IgnoredSounds,
	}, sessions)

	alerts, err := alert.NewService(settings.Main.Name, &settings.Alert)
	if err != nil {
		return err
	}

	var reasoner escalation.Reasoner
	if settings.Escalation.Enabled {
		r, rErr := escalation.NewLLMReasoner(&settings.Escalation)
		if rErr != nil {
			return rErr
		}
		reasoner = r
	} else {
		log.Warn("trigger verification disabled, only critical triggers will alert")
	}
	dispatcher := escalation.NewDispatcher(reasoner, sessions, alerts, bus)

	pipeline := analysis.New(settings, analysis.Deps{
		Sound:      sound,
		Impulse:    impulse,
		Engine:     engine,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Bus:        bus,
		Metrics:    metrics,
	})
	bus.Register(pipeline)
	pipeline.Start()
	defer pipeline.Stop()

	// Capture, restarted when the device dies.
	quitChan := make(chan struct{})
	var wg sync.WaitGroup
	restartChan := make(chan struct{}, 1)
	audio.CaptureAudio(settings, pipeline.FrameBuffer(), &wg, quitChan, restartChan)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	log.Info("monitoring started", "node", settings.Main.Name, "source", settings.Audio.Source)
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				pipeline.DeclareEmergency("Emergency declared by user signal.")
				continue
			}
			log.Info("shutting down", "signal", sig)
			close(quitChan)
			wg.Wait()
			dispatcher.Wait()
			return nil
		case <-restartChan:
			log.Warn("audio capture restarting")
			wg.Wait()
			audio.CaptureAudio(settings, pipeline.FrameBuffer(), &wg, quitChan, restartChan)
		}
	}
}
