package service

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/billingops/internal/domain/invoice"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// CandidateQuery selects the invoices a settlement may pay.
type CandidateQuery struct {
	CustomerID         string
	CorrelationID      string
	SelectedInvoiceIDs []string
	ApplyToAll         bool
}

// CandidateSelector decides which invoices a settlement walks, and in what order.
type CandidateSelector interface {
	SelectCandidates(ctx context.Context, query CandidateQuery) ([]string, error)
	// ListCandidates is SelectCandidates for ApplyToAll, returning the invoices themselves.
	ListCandidates(ctx context.Context, customerID, correlationID string) ([]*invoice.Invoice, error)
}

type candidateSelector struct {
	ServiceParams
}

func NewCandidateSelector(params ServiceParams) CandidateSelector {
	return &candidateSelector{ServiceParams: params}
}

// SelectCandidates returns explicit ids verbatim. With ApplyToAll it returns failed open invoices
// ahead of drafts; with neither it returns nothing and the whole amount becomes credit.
func (s *candidateSelector) SelectCandidates(ctx context.Context, query CandidateQuery) ([]string, error) {
	if len(query.SelectedInvoiceIDs) > 0 {
		return append([]string(nil), query.SelectedInvoiceIDs...), nil
	}
	if !query.ApplyToAll {
		return []string{}, nil
	}

	invoices, err := s.ListCandidates(ctx, query.CustomerID, query.CorrelationID)
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) string { return inv.ID }), nil
}

func (s *candidateSelector) ListCandidates(ctx context.Context, customerID, correlationID string) ([]*invoice.Invoice, error) {
	if customerID == "" {
		return nil, ierr.NewError("customer_id is required").
			WithHint("Customer ID is required to list invoices").
			Mark(ierr.ErrValidation)
	}

	var open, drafts []*invoice.Invoice
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		open, err = s.InvoiceRepo.ListByCustomerAndStatus(ctx, customerID, types.InvoiceStatusOpen)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		drafts, err = s.InvoiceRepo.ListByCustomerAndStatus(ctx, customerID, types.InvoiceStatusDraft)
		return err
	})
	if err := p.Wait(); err != nil {
		s.Logger.Errorw("failed to list candidate invoices",
			"customer_id", customerID,
			"error", err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list customer invoices").
			WithReportableDetails(map[string]interface{}{
				"customer_id": customerID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	key := s.correlationKey()
	inBill := func(inv *invoice.Invoice, _ int) bool {
		return correlationID == "" || inv.CorrelationID(key) == correlationID
	}

	failed := lo.Filter(lo.Filter(open, inBill), func(inv *invoice.Invoice, _ int) bool { return inv.IsFailed() })
	drafts = lo.Filter(drafts, inBill)

	sortByTime(failed, failedInvoiceOrder)
	sortByTime(drafts, draftInvoiceOrder)

	s.Logger.Debugw("selected candidate invoices",
		"customer_id", customerID,
		"correlation_id", correlationID,
		"failed", len(failed),
		"drafts", len(drafts))

	return append(failed, drafts...), nil
}

// failedInvoiceOrder is the due date, falling back to the creation date.
func failedInvoiceOrder(inv *invoice.Invoice) time.Time {
	if !inv.DueDate.IsZero() {
		return inv.DueDate
	}
	return inv.CreatedAt
}

// draftInvoiceOrder is the earliest of the local finalize schedule, the provider's
// automatic finalize time, the due date and the creation date. Unset times are ignored.
func draftInvoiceOrder(inv *invoice.Invoice) time.Time {
	return earliest(inv.ScheduledFinalizeAt(), inv.AutomaticallyFinalizesAt, inv.DueDate, inv.CreatedAt)
}

func earliest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}

// sortByTime orders ascending by key. Unknown times sort last; ties fall back to the invoice id.
func sortByTime(invoices []*invoice.Invoice, key func(*invoice.Invoice) time.Time) {
	sort.SliceStable(invoices, func(i, j int) bool {
		a, b := key(invoices[i]), key(invoices[j])
		switch {
		case a.IsZero() != b.IsZero():
			return !a.IsZero()
		case !a.Equal(b):
			return a.Before(b)
		default:
			return invoices[i].ID < invoices[j].ID
		}
	})
}
