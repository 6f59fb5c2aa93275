package service

import (
	"time"

	"github.com/flexprice/billingops/internal/cache"
	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/lock"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/pubsub"
	"github.com/flexprice/billingops/internal/sentry"
	"github.com/flexprice/billingops/internal/types"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Billing provider
	InvoiceRepo   invoice.Repository
	ChargeGateway settlement.ChargeGateway
	BalanceRepo   settlement.BalanceRepository

	// Local records
	ManualCreditRepo settlement.ManualCreditRepository

	Locker         lock.Locker
	Cache          cache.Cache
	EventPublisher pubsub.EventPublisher
	SentryService  *sentry.Service
	Idempotency    *idempotency.Generator

	// Clock is overridable in tests.
	Clock func() time.Time
}

// NewServiceParams creates a new instance of ServiceParams
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	invoiceRepo invoice.Repository,
	chargeGateway settlement.ChargeGateway,
	balanceRepo settlement.BalanceRepository,
	manualCreditRepo settlement.ManualCreditRepository,
	locker lock.Locker,
	cache cache.Cache,
	eventPublisher pubsub.EventPublisher,
	sentryService *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		InvoiceRepo:      invoiceRepo,
		ChargeGateway:    chargeGateway,
		BalanceRepo:      balanceRepo,
		ManualCreditRepo: manualCreditRepo,
		Locker:           locker,
		Cache:            cache,
		EventPublisher:   eventPublisher,
		SentryService:    sentryService,
		Idempotency:      idempotency.NewGenerator(),
		Clock:            func() time.Time { return time.Now().UTC() },
	}
}

func (p ServiceParams) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock()
}

// correlationKey is the invoice metadata key that groups invoices into one bill.
func (p ServiceParams) correlationKey() string {
	if p.Config == nil || p.Config.Settlement.CorrelationKey == "" {
		return "bill_id"
	}
	return p.Config.Settlement.CorrelationKey
}

// sourceRepo returns the store that owns settlement sources of kind.
func (p ServiceParams) sourceRepo(kind types.SettlementSourceKind) settlement.SourceRepository {
	switch kind {
	case types.SettlementSourceKindCharge:
		if p.ChargeGateway != nil {
			return p.ChargeGateway
		}
	case types.SettlementSourceKindManualCredit:
		if p.ManualCreditRepo != nil {
			return p.ManualCreditRepo
		}
	}
	return nil
}
