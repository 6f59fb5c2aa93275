package sentry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestDisabledServiceIsNoop(t *testing.T) {
	svc := NewSentryService(config.GetDefaultConfig(), logger.NewNoopLogger())
	assert.False(t, svc.IsEnabled())
	assert.NoError(t, svc.Init())

	svc.CaptureException(errors.New("boom"))
	svc.CaptureExceptionWithContext(context.Background(), errors.New("boom"), map[string]string{"invoice_id": "in_1"})

	span, ctx := svc.StartMonitoringSpan(context.Background(), "settlement.allocate", nil)
	assert.Nil(t, span)
	assert.NotNil(t, ctx)
	assert.True(t, svc.Flush(time.Millisecond))

	var nilSvc *Service
	assert.False(t, nilSvc.IsEnabled())
}
