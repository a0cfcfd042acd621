package alert

import (
	"context"
	"io"
	"log"
	"log/slog"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/logging"
)

// Service sends alerts through a shoutrrr service router. One sender serves
// all configured URLs.
type Service struct {
	appName  string
	enabled  bool
	contacts []string
	sender   *router.ServiceRouter
	alertLog *Log
	logger   *slog.Logger
}

// NewService builds the sender from the configured shoutrrr URLs. A
// disabled service formats and logs alerts without delivering them.
func NewService(appName string, cfg *conf.AlertSettings) (*Service, error) {
	s := &Service{
		appName:  appName,
		enabled:  cfg.Enabled,
		contacts: slices.Clone(cfg.Contacts),
		alertLog: NewLog(cfg.LogSize),
		logger:   logging.ForService("alert"),
	}
	if !cfg.Enabled {
		return s, nil
	}
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("alert delivery enabled but no service URLs configured").
			Component("alert").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("alert").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(cfg.URLs)).
			Build()
	}
	if cfg.TimeoutSeconds > 0 {
		sender.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	s.sender = sender
	return s, nil
}

// Send delivers an alert to all configured URLs and records the attempt in
// the alert log. The context is advisory, the router enforces its own
// timeout.
func (s *Service) Send(ctx context.Context, a Alert) error {
	_ = ctx

	body := FormatMessage(s.appName, &a, "")

	if !s.enabled || s.sender == nil {
		a.Status = "suppressed"
		s.alertLog.Append(a)
		s.logger.Warn("alert delivery disabled, alert suppressed",
			"id", a.ID, "severity", a.Severity, "soundType", a.SoundType)
		return nil
	}

	params := stypes.Params{}
	params.SetTitle(a.Severity.Heading() + " - " + s.appName)

	errs := s.sender.Send(body, &params)
	var firstErr error
	for _, e := range errs {
		if e != nil {
			firstErr = e
			break
		}
	}

	if firstErr != nil {
		a.Status = "failed"
		s.alertLog.Append(a)
		return errors.New(firstErr).
			Component("alert").
			Category(errors.CategoryAlertDelivery).
			Context("alert_id", a.ID).
			Context("severity", string(a.Severity)).
			Priority(errors.PriorityCritical).
			Build()
	}

	a.Status = "sent"
	s.alertLog.Append(a)
	s.logger.Info("alert delivered",
		"id", a.ID, "severity", a.Severity, "soundType", a.SoundType, "contacts", len(s.contacts))
	return nil
}

// Contacts returns the configured contact names.
func (s *Service) Contacts() []string {
	return slices.Clone(s.contacts)
}

// Log exposes the delivery log for status reporting.
func (s *Service) Log() *Log {
	return s.alertLog
}
