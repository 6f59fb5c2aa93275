package testutil

import (
	"context"
	"time"

	"github.com/flexprice/billingops/internal/cache"
	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/repository/memory"
	"github.com/flexprice/billingops/internal/sentry"
	"github.com/flexprice/billingops/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory provider and local stores shared by service tests.
type Stores struct {
	InvoiceRepo      *InMemoryInvoiceStore
	ChargeGateway    *InMemoryChargeGateway
	ManualCreditRepo settlement.ManualCreditRepository
	BalanceRepo      *InMemoryBalanceStore
}

// BaseServiceTestSuite wires fresh fakes for every test.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	logger    *logger.Logger
	config    *config.Configuration
	cache     *cache.InMemoryCache
	publisher *InMemoryPublisher
	sentry    *sentry.Service
	now       time.Time
}

func (s *BaseServiceTestSuite) SetupTest() {
	s.setupConfig()
	s.logger = logger.NewNoopLogger()
	s.ctx = types.SetRequestID(context.Background(), types.GenerateUUID())
	s.cache = cache.NewInMemoryCache()
	s.publisher = NewInMemoryPublisher()
	s.sentry = sentry.NewSentryService(s.config, s.logger)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.setupStores()
}

func (s *BaseServiceTestSuite) TearDownTest() {
	s.ClearStores()
}

func (s *BaseServiceTestSuite) setupConfig() {
	s.config = config.GetDefaultConfig()
	s.config.Settlement.LedgerRetryBackoff = time.Millisecond
	s.config.Locking.Wait = time.Second
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		InvoiceRepo:      NewInMemoryInvoiceStore(),
		ChargeGateway:    NewInMemoryChargeGateway(),
		ManualCreditRepo: memory.NewManualCreditRepository(),
		BalanceRepo:      NewInMemoryBalanceStore(),
	}
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.stores.InvoiceRepo.Clear()
	s.stores.ChargeGateway.Clear()
	s.stores.BalanceRepo.Clear()
	s.stores.ManualCreditRepo = memory.NewManualCreditRepository()
	s.cache.Flush(s.ctx)
	s.publisher.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetCache() *cache.InMemoryCache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetPublisher() *InMemoryPublisher {
	return s.publisher
}

func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetNow is a fixed reference time for building fixtures.
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
