package service

import (
	"strings"
	"testing"
	"time"

	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/idempotency"
	"github.com/flexprice/billingops/internal/testutil"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type AllocationEngineSuite struct {
	settlementTestBase
	engine AllocationEngine
}

func TestAllocationEngine(t *testing.T) {
	suite.Run(t, new(AllocationEngineSuite))
}

func (s *AllocationEngineSuite) SetupTest() {
	s.settlementTestBase.SetupTest()
	s.engine = NewAllocationEngine(s.params)
}

func (s *AllocationEngineSuite) allocate(sourceID string, amount int64, candidates ...string) *settlement.AllocationResult {
	result, err := s.engine.Allocate(s.GetContext(), &AllocationRequest{
		SourceID:     sourceID,
		CustomerID:   testCustomerID,
		Currency:     testCurrency,
		Amount:       amount,
		Reason:       "test",
		CandidateIDs: candidates,
	})
	s.Require().NoError(err)
	s.Require().NotNil(result)
	return result
}

// allocateCharge runs against a seeded charge so the engine can record deleted drafts on it.
func (s *AllocationEngineSuite) allocateCharge(sourceID string, amount int64, candidates ...string) *settlement.AllocationResult {
	result, err := s.engine.Allocate(s.GetContext(), &AllocationRequest{
		SourceID:     sourceID,
		SourceKind:   types.SettlementSourceKindCharge,
		CustomerID:   testCustomerID,
		Currency:     testCurrency,
		Amount:       amount,
		Reason:       "test",
		CandidateIDs: candidates,
	})
	s.Require().NoError(err)
	s.Require().NotNil(result)
	return result
}

func (s *AllocationEngineSuite) seedCharge(sourceID string, amount int64) {
	s.Require().NoError(s.GetStores().ChargeGateway.Seed(s.GetContext(), &settlement.Source{
		Ref:        settlement.SourceRef{Kind: types.SettlementSourceKindCharge, ID: sourceID},
		CustomerID: testCustomerID,
		Amount:     amount,
		Currency:   testCurrency,
		Status:     types.ChargeStatusSucceeded,
		CreatedAt:  s.GetNow(),
	}))
}

func (s *AllocationEngineSuite) assertConserved(result *settlement.AllocationResult, amount int64) {
	s.GreaterOrEqual(result.RemainingCredit, int64(0))
	s.Equal(amount, result.TotalApplied()+result.RemainingCredit)
}

func (s *AllocationEngineSuite) TestAllocate_RejectsNonPositiveAmount() {
	_, err := s.engine.Allocate(s.GetContext(), &AllocationRequest{
		SourceID:   "pi_1",
		CustomerID: testCustomerID,
		Amount:     0,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *AllocationEngineSuite) TestAllocate_PartialOpenUsesCreditNote() {
	s.seed(s.openInvoice("in_a", 3000, 1, s.GetNow()))

	result := s.allocate("pi_1", 1200, "in_a")

	s.assertConserved(result, 1200)
	s.Equal([]settlement.AppliedInvoice{{InvoiceID: "in_a", InvoiceNumber: "INV-in_a", AmountApplied: 1200}}, result.Applied)

	inv := s.snapshot("in_a")
	s.Equal(types.InvoiceStatusOpen, inv.Status)
	s.Equal(int64(1800), inv.AmountRemaining)
	s.Equal(int64(1200), inv.TotalPaid())
	s.Equal(int64(1), inv.LedgerVersion())
	s.Equal("true", inv.Metadata[types.MetadataKeyPaidViaManualSettlement])
	s.Equal("1200", inv.Metadata[types.MetadataKeyLastPaymentAmount])
	s.Len(s.invoices().CreditNotes(), 1)
}

func (s *AllocationEngineSuite) TestAllocate_TieCountsAsFullySettled() {
	s.seed(s.openInvoice("in_a", 3000, 1, s.GetNow()))

	result := s.allocate("pi_1", 3000, "in_a")

	s.assertConserved(result, 3000)
	s.Equal(int64(0), result.RemainingCredit)
	s.Equal(types.InvoiceStatusVoid, s.snapshot("in_a").Status)
	s.Equal(1, s.invoices().Calls(testutil.OpVoid))
	s.Empty(s.invoices().CreditNotes())
}

func (s *AllocationEngineSuite) TestAllocate_SkipsIneligibleInvoices() {
	paid := s.openInvoice("in_paid", 1000, 0, s.GetNow())
	paid.Status = types.InvoiceStatusPaid
	foreign := s.openInvoice("in_foreign", 1000, 1, s.GetNow())
	foreign.CustomerID = "cus_other"
	euro := s.openInvoice("in_eur", 1000, 1, s.GetNow())
	euro.Currency = "eur"
	s.seed(paid, foreign, euro, s.openInvoice("in_ok", 500, 1, s.GetNow()))

	result := s.allocate("pi_1", 2000, "in_missing", "in_paid", "in_foreign", "in_eur", "in_ok")

	s.assertConserved(result, 2000)
	s.Len(result.Applied, 1)
	s.Equal("in_ok", result.Applied[0].InvoiceID)
	s.Equal(int64(1500), result.RemainingCredit)
	s.Equal(0, s.invoices().Calls(testutil.OpCreditNote))
}

func (s *AllocationEngineSuite) TestAllocate_DuplicateCandidatesAppliedOnce() {
	s.seed(s.openInvoice("in_a", 1000, 1, s.GetNow()))

	result := s.allocate("pi_1", 5000, "in_a", "in_a")

	s.assertConserved(result, 5000)
	s.Len(result.Applied, 1)
	s.Equal(int64(4000), result.RemainingCredit)
}

func (s *AllocationEngineSuite) TestAllocate_NeverOverApplies() {
	draft := s.draftInvoice("in_d", 4000, time.Time{})
	draft.Metadata[types.MetadataKeyTotalPaid] = "2500"
	draft.Metadata[types.MetadataKeyPaymentHistory] = `[{"sourceId":"pi_old","amount":2500,"reason":"","timestamp":"2024-01-01T00:00:00Z","kind":"settlement"}]`
	s.seed(draft, s.openInvoice("in_o", 700, 1, s.GetNow()))

	result := s.allocate("pi_1", 10000, "in_d", "in_o")

	s.assertConserved(result, 10000)
	s.Equal(int64(1500), result.Applied[0].AmountApplied)
	s.Equal(int64(700), result.Applied[1].AmountApplied)
	s.Equal(int64(7800), result.RemainingCredit)
}

func (s *AllocationEngineSuite) TestAllocate_StopsWhenFundsRunOut() {
	s.seed(
		s.openInvoice("in_a", 1000, 1, s.GetNow()),
		s.openInvoice("in_b", 1000, 1, s.GetNow()),
	)

	result := s.allocate("pi_1", 1000, "in_a", "in_b")

	s.assertConserved(result, 1000)
	s.Len(result.Applied, 1)
	s.Equal(1, s.invoices().Calls(testutil.OpVoid))
	s.Equal(types.InvoiceStatusOpen, s.snapshot("in_b").Status)
	s.Equal(int64(0), s.snapshot("in_b").TotalPaid())
}

func (s *AllocationEngineSuite) TestAllocate_VoidFailureFallsBackToCreditNote() {
	s.seed(s.openInvoice("in_a", 2000, 1, s.GetNow()))
	s.invoices().FailOn(testutil.OpVoid, "in_a", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 2000, "in_a")

	s.assertConserved(result, 2000)
	s.Equal(int64(2000), result.TotalApplied())
	inv := s.snapshot("in_a")
	s.Equal(types.InvoiceStatusPaid, inv.Status)
	s.Equal("true", inv.Metadata[types.MetadataKeySettled])
	s.Equal(int64(2000), inv.TotalPaid())
}

func (s *AllocationEngineSuite) TestAllocate_OpenWithoutAnyMutationCarriesFundsForward() {
	s.seed(
		s.openInvoice("in_a", 2000, 1, s.GetNow()),
		s.openInvoice("in_b", 2000, 1, s.GetNow()),
	)
	s.invoices().FailOn(testutil.OpCreditNote, "in_a", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 1500, "in_a", "in_b")

	s.assertConserved(result, 1500)
	s.Len(result.Applied, 1)
	s.Equal("in_b", result.Applied[0].InvoiceID)
	// no ledger entry without a provider record
	s.Equal(int64(0), s.snapshot("in_a").TotalPaid())
	s.Equal(1, s.invoices().Calls(testutil.OpUpdateMetadata))
}

func (s *AllocationEngineSuite) TestAllocate_DraftAdjustmentFailureRecordedInLedger() {
	s.seed(s.draftInvoice("in_d", 4000, time.Time{}))
	s.invoices().FailOn(testutil.OpAdjustment, "in_d", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 1000, "in_d")

	s.assertConserved(result, 1000)
	s.Equal(int64(1000), result.TotalApplied())
	inv := s.snapshot("in_d")
	s.Equal(int64(4000), inv.AmountDue)
	s.Equal(int64(1000), inv.TotalPaid())
	s.Equal(int64(3000), EffectiveRemaining(inv))
}

func (s *AllocationEngineSuite) TestAllocate_DraftWithNoDurableRecordIsNotCounted() {
	s.seed(s.draftInvoice("in_d", 1000, time.Time{}))
	s.invoices().FailOn(testutil.OpDelete, "in_d", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))
	s.invoices().FailOn(testutil.OpUpdateMetadata, "in_d", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 1000, "in_d")

	s.assertConserved(result, 1000)
	s.Empty(result.Applied)
	s.Equal(int64(1000), result.RemainingCredit)
	// first attempt plus the configured retries
	s.Equal(int(s.GetConfig().Settlement.LedgerWriteRetries)+1, s.invoices().Calls(testutil.OpUpdateMetadata))
}

func (s *AllocationEngineSuite) TestAllocate_LedgerFailureAfterVoidStillCounts() {
	s.seed(s.openInvoice("in_a", 2000, 1, s.GetNow()))
	s.invoices().FailOn(testutil.OpUpdateMetadata, "in_a", ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 2000, "in_a")

	s.Equal(int64(2000), result.TotalApplied())
	s.Equal(types.InvoiceStatusVoid, s.snapshot("in_a").Status)
}

func (s *AllocationEngineSuite) TestAllocate_FetchFailureSkipsCandidate() {
	s.seed(
		s.openInvoice("in_a", 1000, 1, s.GetNow()),
		s.openInvoice("in_b", 1000, 1, s.GetNow()),
	)
	s.invoices().FailOn(testutil.OpGet, "in_a", ierr.NewError("timeout").Mark(ierr.ErrHTTPClient))

	result := s.allocate("pi_1", 1500, "in_a", "in_b")

	s.assertConserved(result, 1500)
	s.Equal([]string{"in_b"}, lo.Map(result.Applied, func(a settlement.AppliedInvoice, _ int) string { return a.InvoiceID }))
}

func (s *AllocationEngineSuite) TestAllocate_RerunOfSameSourceCountsRecordedAmount() {
	s.seed(s.openInvoice("in_a", 3000, 1, s.GetNow()))

	first := s.allocate("pi_1", 1000, "in_a")
	second := s.allocate("pi_1", 1000, "in_a")

	s.Equal(first.Applied, second.Applied)
	s.Len(s.invoices().CreditNotes(), 1)
	s.Len(s.snapshot("in_a").PaymentHistory(), 1)
}

func (s *AllocationEngineSuite) TestAllocate_RerunAfterVoidCountsRecordedAmount() {
	s.seed(s.openInvoice("in_a", 3000, 1, s.GetNow()))

	first := s.allocate("pi_1", 5000, "in_a")
	s.Equal(types.InvoiceStatusVoid, s.snapshot("in_a").Status)
	second := s.allocate("pi_1", 5000, "in_a")

	for _, result := range []*settlement.AllocationResult{first, second} {
		s.assertConserved(result, 5000)
		s.Equal([]settlement.AppliedInvoice{{InvoiceID: "in_a", InvoiceNumber: "INV-in_a", AmountApplied: 3000}}, result.Applied)
		s.Equal(int64(2000), result.RemainingCredit)
	}
	s.Equal(1, s.invoices().Calls(testutil.OpVoid))
	s.Len(s.snapshot("in_a").PaymentHistory(), 1)
}

func (s *AllocationEngineSuite) TestAllocate_VoidCarriesSourceScopedIdempotencyKey() {
	s.seed(s.openInvoice("in_a", 3000, 1, s.GetNow()))

	s.allocate("pi_1", 3000, "in_a")

	s.Equal([]string{idempotency.NewGenerator().GenerateKey(idempotency.ScopeInvoiceVoid, map[string]interface{}{
		"source_id":  "pi_1",
		"invoice_id": "in_a",
	})}, s.invoices().VoidKeys())
}

func (s *AllocationEngineSuite) TestAllocate_RerunAfterDeleteCountsRetiredDraft() {
	s.seedCharge("pi_1", 5000)
	s.seed(s.draftInvoice("in_d", 4000, time.Time{}))

	first := s.allocateCharge("pi_1", 5000, "in_d")
	s.Nil(s.snapshot("in_d"))

	src, err := s.GetStores().ChargeGateway.Get(s.GetContext(), "pi_1")
	s.Require().NoError(err)
	s.Equal(settlement.RetiredInvoices{"in_d": 4000}, settlement.ParseRetiredInvoices(src.Metadata))

	second := s.allocateCharge("pi_1", 5000, "in_d")

	for _, result := range []*settlement.AllocationResult{first, second} {
		s.assertConserved(result, 5000)
		s.Equal([]settlement.AppliedInvoice{{InvoiceID: "in_d", AmountApplied: 4000}}, result.Applied)
		s.Equal(int64(1000), result.RemainingCredit)
	}
	s.Equal(1, s.invoices().Calls(testutil.OpDelete))
}

func (s *AllocationEngineSuite) TestAllocate_DeletedDraftOfAnotherSourceIsNotCounted() {
	s.seedCharge("pi_1", 4000)
	s.seedCharge("pi_2", 4000)
	s.seed(s.draftInvoice("in_d", 4000, time.Time{}))

	s.allocateCharge("pi_1", 4000, "in_d")
	other := s.allocateCharge("pi_2", 4000, "in_d")

	s.Empty(other.Applied)
	s.Equal(int64(4000), other.RemainingCredit)
}

func (s *AllocationEngineSuite) TestAllocate_UnrecordableDeleteSettlesThroughLedger() {
	s.seedCharge("pi_1", 1000)
	s.seed(s.draftInvoice("in_d", 1000, time.Time{}))
	s.GetStores().ChargeGateway.UpdateErr = ierr.NewError("provider down").Mark(ierr.ErrHTTPClient)

	result := s.allocateCharge("pi_1", 1000, "in_d")

	s.assertConserved(result, 1000)
	s.Equal(int64(1000), result.TotalApplied())
	s.Equal(0, s.invoices().Calls(testutil.OpDelete))
	inv := s.snapshot("in_d")
	s.Require().NotNil(inv)
	s.Equal("true", inv.Metadata[types.MetadataKeySettled])
	s.Equal(int64(1000), inv.TotalPaid())

	// the ledger entry makes a rerun count the same amount
	s.GetStores().ChargeGateway.UpdateErr = nil
	rerun := s.allocateCharge("pi_1", 1000, "in_d")
	s.Equal(result.Applied, rerun.Applied)
	s.Equal(0, s.invoices().Calls(testutil.OpDelete))
}

func (s *AllocationEngineSuite) TestAllocate_LedgerOverMetadataLimitIsNotWritten() {
	draft := s.draftInvoice("in_d", 4000, time.Time{})
	history, err := invoice.MarshalPaymentHistory([]invoice.PaymentHistoryEntry{
		invoice.NewSettlementEntry("pi_0", 500, strings.Repeat("r", 380), s.GetNow()),
	})
	s.Require().NoError(err)
	draft.Metadata[types.MetadataKeyPaymentHistory] = history
	draft.Metadata[types.MetadataKeyTotalPaid] = "500"
	s.seed(draft)

	result := s.allocate("pi_1", 1000, "in_d")

	// the adjustment line item is the durable record
	s.assertConserved(result, 1000)
	s.Equal(int64(1000), result.TotalApplied())
	s.Len(s.invoices().Adjustments(), 1)
	s.Equal(0, s.invoices().Calls(testutil.OpUpdateMetadata))
	s.Equal(history, s.snapshot("in_d").Metadata[types.MetadataKeyPaymentHistory])
}

func (s *AllocationEngineSuite) TestAllocate_LedgerTotalMatchesHistory() {
	s.seed(s.draftInvoice("in_d", 9000, time.Time{}))

	for i, source := range []string{"pi_1", "pi_2", "pi_3"} {
		s.allocate(source, int64(1000*(i+1)), "in_d")
	}

	inv := s.snapshot("in_d")
	s.Require().NotNil(inv)
	s.Equal(invoice.SumHistory(inv.PaymentHistory()), inv.TotalPaid())
	s.Equal(int64(6000), inv.TotalPaid())
	s.Equal(int64(9000), inv.BaseAmountDue())
	s.Equal(int64(3000), EffectiveRemaining(inv))
	s.Equal(int64(3), inv.LedgerVersion())
}

func (s *AllocationEngineSuite) TestPlan_DoesNotMutate() {
	s.seed(
		s.openInvoice("in_a", 3000, 1, s.GetNow()),
		s.draftInvoice("in_d", 4000, time.Time{}),
	)

	result, err := s.engine.Plan(s.GetContext(), &AllocationRequest{
		SourceID:     "preview",
		CustomerID:   testCustomerID,
		Currency:     testCurrency,
		Amount:       5000,
		CandidateIDs: []string{"in_a", "in_d"},
	})
	s.Require().NoError(err)

	s.Equal(int64(3000), result.Applied[0].AmountApplied)
	s.Equal(int64(2000), result.Applied[1].AmountApplied)
	s.Equal(int64(0), result.RemainingCredit)
	s.Equal(0, s.invoices().Calls(testutil.OpVoid))
	s.Equal(0, s.invoices().Calls(testutil.OpAdjustment))
	s.Equal(0, s.invoices().Calls(testutil.OpUpdateMetadata))
}
