package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/flexprice/billingops/internal/config"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/creditnote"
	"github.com/stripe/stripe-go/v82/customerbalancetransaction"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"golang.org/x/time/rate"
)

// Client holds the per-resource Stripe clients behind one rate limited, retrying backend.
type Client struct {
	invoices     invoice.Client
	invoiceItems invoiceitem.Client
	creditNotes  creditnote.Client
	balances     customerbalancetransaction.Client
	payments     paymentintent.Client

	limiter        *rate.Limiter
	logger         *logger.Logger
	correlationKey string
}

// NewClient builds the Stripe client from configuration.
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	if cfg.Stripe.SecretKey == "" {
		return nil, ierr.NewError("stripe secret key is not configured").
			WithHint("Set stripe.secret_key").
			Mark(ierr.ErrValidation)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Stripe.RetryMax
	retryClient.Logger = log.GetRetryableHTTPLogger()
	httpClient := retryClient.StandardClient()
	httpClient.Timeout = cfg.Stripe.Timeout

	backendConfig := &stripe.BackendConfig{
		HTTPClient:    httpClient,
		LeveledLogger: log,
		// retries are owned by retryablehttp
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.Stripe.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.Stripe.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	limit := rate.Inf
	if cfg.Stripe.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Stripe.RequestsPerSecond)
	}
	burst := cfg.Stripe.Burst
	if burst <= 0 {
		burst = 1
	}

	return newClient(backend, cfg.Stripe.SecretKey, rate.NewLimiter(limit, burst), log, cfg.Settlement.CorrelationKey), nil
}

func newClient(backend stripe.Backend, key string, limiter *rate.Limiter, log *logger.Logger, correlationKey string) *Client {
	return &Client{
		invoices:       invoice.Client{B: backend, Key: key},
		invoiceItems:   invoiceitem.Client{B: backend, Key: key},
		creditNotes:    creditnote.Client{B: backend, Key: key},
		balances:       customerbalancetransaction.Client{B: backend, Key: key},
		payments:       paymentintent.Client{B: backend, Key: key},
		limiter:        limiter,
		logger:         log,
		correlationKey: correlationKey,
	}
}

// wait blocks until the limiter admits one more provider call.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Stripe request was cancelled while waiting for rate limit").
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}

// mapError converts a Stripe error into our error taxonomy.
func mapError(err error, hint string, details map[string]interface{}) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if details == nil {
			details = map[string]interface{}{}
		}
		details["stripe_code"] = string(stripeErr.Code)
		details["stripe_status"] = stripeErr.HTTPStatusCode
		if stripeErr.RequestID != "" {
			details["stripe_request_id"] = stripeErr.RequestID
		}

		builder := ierr.WithError(err).WithHint(hint).WithReportableDetails(details)
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return builder.Mark(ierr.ErrNotFound)
		case stripeErr.HTTPStatusCode == http.StatusConflict:
			return builder.Mark(ierr.ErrVersionConflict)
		case stripeErr.Type == stripe.ErrorTypeCard:
			return builder.Mark(ierr.ErrInvalidOperation)
		case stripeErr.HTTPStatusCode == http.StatusBadRequest:
			return builder.Mark(ierr.ErrInvalidOperation)
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
			return builder.Mark(ierr.ErrPermissionDenied)
		}
		return builder.Mark(ierr.ErrHTTPClient)
	}

	return ierr.WithError(err).
		WithHint(hint).
		WithReportableDetails(details).
		Mark(ierr.ErrHTTPClient)
}
