// Package observability exposes Prometheus metrics for the detection
// pipeline and serves them over HTTP when enabled.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/logging"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	ClassificationTotal  prometheus.Counter
	ClassificationErrors prometheus.Counter
	InferenceDuration    prometheus.Histogram
	DetectionCounter     *prometheus.CounterVec
	TriggerCounter       *prometheus.CounterVec
	VerdictCounter       *prometheus.CounterVec
	AudioLevelGauge      prometheus.Gauge
	BufferOverruns       prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers the pipeline metrics on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		ClassificationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_classifications_total",
			Help: "Total number of classification cycles.",
		}),
		ClassificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_classification_errors_total",
			Help: "Total number of failed classification cycles.",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_inference_duration_seconds",
			Help:    "Time taken for one model inference pass.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		DetectionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_detections_total",
			Help: "Detections partitioned by top label.",
		}, []string{"label"}),
		TriggerCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_triggers_total",
			Help: "Escalation triggers partitioned by emergency type.",
		}, []string{"type"}),
		VerdictCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_verdicts_total",
			Help: "Escalation verdicts partitioned by outcome.",
		}, []string{"outcome"}),
		AudioLevelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_audio_level_rms",
			Help: "RMS of the most recent captured frame.",
		}),
		BufferOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_buffer_overruns_total",
			Help: "Times the frame buffer dropped audio because analysis fell behind.",
		}),
		registry: registry,
	}

	collectors := []prometheus.Collector{
		m.ClassificationTotal, m.ClassificationErrors, m.InferenceDuration,
		m.DetectionCounter, m.TriggerCounter, m.VerdictCounter,
		m.AudioLevelGauge, m.BufferOverruns,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Name implements events.Consumer.
func (m *Metrics) Name() string { return "metrics" }

// Handle implements events.Consumer, updating collectors from bus events.
func (m *Metrics) Handle(event events.Event) {
	switch ev := event.(type) {
	case events.AudioLevelEvent:
		m.AudioLevelGauge.Set(ev.RMS)
	case events.DetectionEvent:
		m.DetectionCounter.WithLabelValues(ev.Label).Inc()
	case events.TriggerEvent:
		m.TriggerCounter.WithLabelValues(ev.Context.EmergencyType).Inc()
	case events.VerdictEvent:
		m.VerdictCounter.WithLabelValues(ev.Outcome).Inc()
	case events.ErrorEvent:
		m.ClassificationErrors.Inc()
	}
}

// Server serves the metrics endpoint.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer starts an HTTP server exposing registry at /metrics on addr.
func NewServer(addr string, registry *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logging.ForService("observability"),
	}
	go func() {
		s.log.Info("metrics endpoint listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server stopped", "error", err)
		}
	}()
	return s
}

// Shutdown stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
