package sentry

import (
	"context"
	"time"

	"github.com/flexprice/billingops/internal/config"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/types"
	"github.com/getsentry/sentry-go"
)

// Service reports errors and spans to Sentry. A disabled service is a no-op.
type Service struct {
	cfg    *config.Configuration
	logger *logger.Logger
}

func NewSentryService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{cfg: cfg, logger: logger}
}

// Init configures the global Sentry client. Called once at startup.
func (s *Service) Init() error {
	if !s.IsEnabled() {
		s.logger.Infow("sentry is disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.cfg.Sentry.DSN,
		Environment:      s.cfg.Sentry.Environment,
		EnableTracing:    true,
		TracesSampleRate: s.cfg.Sentry.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to initialize sentry").
			Mark(ierr.ErrSystem)
	}

	s.logger.Infow("sentry initialized", "environment", s.cfg.Sentry.Environment)
	return nil
}

func (s *Service) IsEnabled() bool {
	return s != nil && s.cfg != nil && s.cfg.Sentry.Enabled && s.cfg.Sentry.DSN != ""
}

func hubFromContext(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

// CaptureException sends err with no request context.
func (s *Service) CaptureException(err error) {
	s.CaptureExceptionWithContext(context.Background(), err, nil)
}

// CaptureExceptionWithContext sends err tagged with the request, customer and the given tags.
func (s *Service) CaptureExceptionWithContext(ctx context.Context, err error, tags map[string]string) {
	if !s.IsEnabled() || err == nil {
		return
	}

	hub := hubFromContext(ctx).Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		if requestID := types.GetRequestID(ctx); requestID != "" {
			scope.SetTag("request_id", requestID)
		}
		if customerID := types.GetCustomerID(ctx); customerID != "" {
			scope.SetTag("customer_id", customerID)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if details := ierr.GetReportableDetails(err); len(details) > 0 {
			scope.SetContext("details", details)
		}
		hub.CaptureException(err)
	})
}

// StartMonitoringSpan starts a child span of the transaction in ctx.
func (s *Service) StartMonitoringSpan(ctx context.Context, operation string, data map[string]interface{}) (*sentry.Span, context.Context) {
	if !s.IsEnabled() {
		return nil, ctx
	}

	span := sentry.StartSpan(ctx, operation)
	for k, v := range data {
		span.SetData(k, v)
	}
	return span, span.Context()
}

// Flush waits for buffered events to be sent.
func (s *Service) Flush(timeout time.Duration) bool {
	if !s.IsEnabled() {
		return true
	}
	return sentry.Flush(timeout)
}
