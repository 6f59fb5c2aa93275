package service

import (
	"strconv"
	"testing"
	"time"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/testutil"
	"github.com/flexprice/billingops/internal/types"
	"github.com/stretchr/testify/suite"
)

type CandidateSelectorSuite struct {
	settlementTestBase
	selector CandidateSelector
}

func TestCandidateSelector(t *testing.T) {
	suite.Run(t, new(CandidateSelectorSuite))
}

func (s *CandidateSelectorSuite) SetupTest() {
	s.settlementTestBase.SetupTest()
	s.selector = NewCandidateSelector(s.params)
}

func (s *CandidateSelectorSuite) TestExplicitIDsReturnedVerbatim() {
	ids, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID:         testCustomerID,
		SelectedInvoiceIDs: []string{"in_z", "in_a", "in_m"},
		ApplyToAll:         true,
	})
	s.Require().NoError(err)
	s.Equal([]string{"in_z", "in_a", "in_m"}, ids)
	s.Equal(0, s.invoices().Calls(testutil.OpList))
}

func (s *CandidateSelectorSuite) TestNoSelectionMeansNoCandidates() {
	s.seed(s.openInvoice("in_a", 1000, 1, s.GetNow()))

	ids, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{CustomerID: testCustomerID})
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *CandidateSelectorSuite) TestApplyToAllOrdering() {
	now := s.GetNow()

	failedLate := s.openInvoice("in_failed_late", 1000, 2, now.AddDate(0, 0, -1))
	failedEarly := s.openInvoice("in_failed_early", 1000, 1, now.AddDate(0, 0, -10))
	// no due date: falls back to the creation date, two months back
	failedNoDue := s.openInvoice("in_failed_nodue", 1000, 1, time.Time{})
	notFailed := s.openInvoice("in_open_fresh", 1000, 0, now.AddDate(0, 0, -30))

	draftNew := s.draftInvoice("in_draft_new", 500, now.AddDate(0, 0, 3))
	draftNew.CreatedAt = now.AddDate(0, 0, -5)
	draftOld := s.draftInvoice("in_draft_old", 500, now.AddDate(0, 0, 20))
	draftOld.CreatedAt = now.AddDate(0, 0, -40)
	// local schedule earlier than the creation date wins
	draftBackdated := s.draftInvoice("in_draft_backdated", 500, now.AddDate(0, 0, 1))
	draftBackdated.CreatedAt = now.AddDate(0, 0, -3)
	draftBackdated.Metadata[types.MetadataKeyScheduledFinalizeAt] = strconv.FormatInt(now.AddDate(0, 0, -20).Unix(), 10)
	draftTieB := s.draftInvoice("in_draft_tie_b", 500, now.AddDate(0, 0, 10))
	draftTieB.CreatedAt = now.AddDate(0, 0, -10)
	draftTieA := s.draftInvoice("in_draft_tie_a", 500, now.AddDate(0, 0, 10))
	draftTieA.CreatedAt = now.AddDate(0, 0, -10)
	// no creation date: the schedule decides
	draftScheduled := s.draftInvoice("in_draft_sched", 500, now.AddDate(0, 0, 20))
	draftScheduled.CreatedAt = time.Time{}
	draftScheduled.Metadata[types.MetadataKeyScheduledFinalizeAt] = "1709337600" // 2024-03-02
	draftUndated := s.draftInvoice("in_draft_undated", 500, time.Time{})
	draftUndated.CreatedAt = time.Time{}

	s.seed(failedLate, failedEarly, failedNoDue, notFailed,
		draftNew, draftOld, draftBackdated, draftTieB, draftTieA, draftScheduled, draftUndated)

	ids, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID: testCustomerID,
		ApplyToAll: true,
	})
	s.Require().NoError(err)
	s.Equal([]string{
		"in_failed_nodue",
		"in_failed_early",
		"in_failed_late",
		"in_draft_old",
		"in_draft_backdated",
		"in_draft_tie_a",
		"in_draft_tie_b",
		"in_draft_new",
		"in_draft_sched",
		"in_draft_undated",
	}, ids)
}

func (s *CandidateSelectorSuite) TestOlderDraftPrecedesSoonerFinalizingDraft() {
	now := s.GetNow()

	older := s.draftInvoice("in_draft_old", 500, now.AddDate(0, 0, 20))
	older.CreatedAt = now.AddDate(0, 0, -40)
	newer := s.draftInvoice("in_draft_new", 500, now.AddDate(0, 0, 3))
	newer.CreatedAt = now.AddDate(0, 0, -5)
	s.seed(newer, older)

	ids, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID: testCustomerID,
		ApplyToAll: true,
	})
	s.Require().NoError(err)
	s.Equal([]string{"in_draft_old", "in_draft_new"}, ids)
}

func (s *CandidateSelectorSuite) TestApplyToAllFiltersByCorrelation() {
	other := s.openInvoice("in_other_bill", 1000, 1, s.GetNow())
	other.Metadata[s.GetConfig().Settlement.CorrelationKey] = "bill_2"
	s.seed(other, s.openInvoice("in_bill", 1000, 1, s.GetNow()))

	ids, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID:    testCustomerID,
		CorrelationID: testBillID,
		ApplyToAll:    true,
	})
	s.Require().NoError(err)
	s.Equal([]string{"in_bill"}, ids)

	ids, err = s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID: testCustomerID,
		ApplyToAll: true,
	})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"in_bill", "in_other_bill"}, ids)
}

func (s *CandidateSelectorSuite) TestListingErrorIsFatal() {
	s.invoices().FailOn(testutil.OpList, testCustomerID+"/"+string(types.InvoiceStatusDraft),
		ierr.NewError("provider down").Mark(ierr.ErrHTTPClient))

	_, err := s.selector.SelectCandidates(s.GetContext(), CandidateQuery{
		CustomerID: testCustomerID,
		ApplyToAll: true,
	})
	s.Error(err)
	s.True(ierr.IsHTTPClient(err))
}
