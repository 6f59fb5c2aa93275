package service

import (
	"time"

	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/lock"
	"github.com/flexprice/billingops/internal/testutil"
	"github.com/flexprice/billingops/internal/types"
)

const (
	testCustomerID = "cus_test"
	testCurrency   = "usd"
	testBillID     = "bill_1"
)

// settlementTestBase is shared by the service suites that need the in-memory provider.
type settlementTestBase struct {
	testutil.BaseServiceTestSuite
	params ServiceParams
}

func (s *settlementTestBase) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = s.newParams(lock.NewMemoryLocker())
}

func (s *settlementTestBase) newParams(locker lock.Locker) ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		InvoiceRepo:      stores.InvoiceRepo,
		ChargeGateway:    stores.ChargeGateway,
		BalanceRepo:      stores.BalanceRepo,
		ManualCreditRepo: stores.ManualCreditRepo,
		Locker:           locker,
		Cache:            s.GetCache(),
		EventPublisher:   s.GetPublisher(),
		SentryService:    s.GetSentry(),
		Idempotency:      idempotency.NewGenerator(),
		Clock:            func() time.Time { return s.GetNow() },
	}
}

func (s *settlementTestBase) invoices() *testutil.InMemoryInvoiceStore {
	return s.GetStores().InvoiceRepo
}

func (s *settlementTestBase) seed(invoices ...*invoice.Invoice) {
	s.Require().NoError(s.invoices().Seed(s.GetContext(), invoices...))
}

func (s *settlementTestBase) snapshot(id string) *invoice.Invoice {
	return s.invoices().Snapshot(s.GetContext(), id)
}

// openInvoice is a finalized invoice. attempts > 0 makes it a failed invoice.
func (s *settlementTestBase) openInvoice(id string, remaining, attempts int64, due time.Time) *invoice.Invoice {
	return &invoice.Invoice{
		ID:              id,
		Number:          "INV-" + id,
		CustomerID:      testCustomerID,
		Currency:        testCurrency,
		Status:          types.InvoiceStatusOpen,
		AmountDue:       remaining,
		AmountRemaining: remaining,
		AttemptCount:    attempts,
		DueDate:         due,
		CreatedAt:       s.GetNow().AddDate(0, -2, 0),
		Metadata:        types.Metadata{s.GetConfig().Settlement.CorrelationKey: testBillID},
	}
}

func (s *settlementTestBase) draftInvoice(id string, amountDue int64, finalizesAt time.Time) *invoice.Invoice {
	return &invoice.Invoice{
		ID:                       id,
		Number:                   "",
		CustomerID:               testCustomerID,
		Currency:                 testCurrency,
		Status:                   types.InvoiceStatusDraft,
		AmountDue:                amountDue,
		AmountRemaining:          amountDue,
		AutomaticallyFinalizesAt: finalizesAt,
		CreatedAt:                s.GetNow().AddDate(0, -1, 0),
		Metadata:                 types.Metadata{s.GetConfig().Settlement.CorrelationKey: testBillID},
	}
}
