package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/flexprice/billingops/internal/domain/invoice"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

// InvoiceOp names an invoice provider call for fault injection and call counting.
type InvoiceOp string

const (
	OpGet            InvoiceOp = "get"
	OpList           InvoiceOp = "list"
	OpUpdateMetadata InvoiceOp = "update_metadata"
	OpDelete         InvoiceOp = "delete"
	OpVoid           InvoiceOp = "void"
	OpAdjustment     InvoiceOp = "adjustment"
	OpCreditNote     InvoiceOp = "credit_note"
)

// InMemoryInvoiceStore implements invoice.Repository with provider-like semantics:
// adjustment items lower a draft's amount due, credit notes lower an open invoice's
// amount remaining, only open invoices can be voided and only drafts deleted.
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]

	mu          sync.Mutex
	faults      map[string]error
	calls       map[InvoiceOp]int
	failures    map[InvoiceOp]int
	creditNotes []invoice.CreditNote
	adjustments []invoice.AdjustmentLineItem
	voids       map[string]*invoice.Invoice
	seq         int

	// OnGet runs after an invoice snapshot is taken and before it is returned.
	OnGet func(id string)
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](),
		faults:        make(map[string]error),
		calls:         make(map[InvoiceOp]int),
		failures:      make(map[InvoiceOp]int),
		voids:         make(map[string]*invoice.Invoice),
	}
}

func faultKey(op InvoiceOp, id string) string {
	return string(op) + ":" + id
}

// FailOn makes every op call for id fail with err. Use "*" as id to match any invoice.
func (s *InMemoryInvoiceStore) FailOn(op InvoiceOp, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(op, id)] = err
}

func (s *InMemoryInvoiceStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
}

func (s *InMemoryInvoiceStore) enter(op InvoiceOp, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err, ok := s.faults[faultKey(op, id)]; ok {
		s.failures[op]++
		return err
	}
	if err, ok := s.faults[faultKey(op, "*")]; ok {
		s.failures[op]++
		return err
	}
	return nil
}

func (s *InMemoryInvoiceStore) fail(op InvoiceOp, err error) error {
	s.mu.Lock()
	s.failures[op]++
	s.mu.Unlock()
	return err
}

// Calls returns how many times op was invoked.
func (s *InMemoryInvoiceStore) Calls(op InvoiceOp) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Failures returns how many op calls returned an error.
func (s *InMemoryInvoiceStore) Failures(op InvoiceOp) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[op]
}

func (s *InMemoryInvoiceStore) CreditNotes() []invoice.CreditNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invoice.CreditNote(nil), s.creditNotes...)
}

func (s *InMemoryInvoiceStore) Adjustments() []invoice.AdjustmentLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invoice.AdjustmentLineItem(nil), s.adjustments...)
}

func (s *InMemoryInvoiceStore) nextID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

// Seed stores copies of the given invoices.
func (s *InMemoryInvoiceStore) Seed(ctx context.Context, invoices ...*invoice.Invoice) error {
	for _, inv := range invoices {
		cp := inv.Copy()
		if cp.Metadata == nil {
			cp.Metadata = types.Metadata{}
		}
		if err := s.InMemoryStore.Create(ctx, cp.ID, cp); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of the stored invoice, or nil if it does not exist.
func (s *InMemoryInvoiceStore) Snapshot(ctx context.Context, id string) *invoice.Invoice {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil
	}
	return inv.Copy()
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	if err := s.enter(OpGet, id); err != nil {
		return nil, err
	}
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := inv.Copy()
	if s.OnGet != nil {
		s.OnGet(id)
	}
	return cp, nil
}

func (s *InMemoryInvoiceStore) ListByCustomerAndStatus(ctx context.Context, customerID string, status types.InvoiceStatus) ([]*invoice.Invoice, error) {
	if err := s.enter(OpList, customerID+"/"+string(status)); err != nil {
		return nil, err
	}
	items, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		return inv.CustomerID == customerID && inv.Status == status
	}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*invoice.Invoice, 0, len(items))
	for _, inv := range items {
		out = append(out, inv.Copy())
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) UpdateMetadata(ctx context.Context, id string, md types.Metadata) (*invoice.Invoice, error) {
	if err := s.enter(OpUpdateMetadata, id); err != nil {
		return nil, err
	}
	var updated *invoice.Invoice
	err := s.Mutate(ctx, id, func(inv *invoice.Invoice) (*invoice.Invoice, error) {
		cp := inv.Copy()
		if cp.Metadata == nil {
			cp.Metadata = types.Metadata{}
		}
		for k, v := range md {
			if v == "" {
				delete(cp.Metadata, k)
				continue
			}
			cp.Metadata[k] = v
		}
		updated = cp.Copy()
		return cp, nil
	})
	if err != nil {
		return nil, s.fail(OpUpdateMetadata, err)
	}
	return updated, nil
}

func (s *InMemoryInvoiceStore) Delete(ctx context.Context, id string) error {
	if err := s.enter(OpDelete, id); err != nil {
		return err
	}
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return s.fail(OpDelete, err)
	}
	if inv.Status != types.InvoiceStatusDraft {
		return s.fail(OpDelete, ierr.NewError("only draft invoices can be deleted").
			WithHintf("Invoice %s is %s", id, inv.Status).
			Mark(ierr.ErrInvalidOperation))
	}
	if err := s.InMemoryStore.Delete(ctx, id); err != nil {
		return s.fail(OpDelete, err)
	}
	return nil
}

// Void replays the stored result for a repeated idempotency key, as Stripe does.
func (s *InMemoryInvoiceStore) Void(ctx context.Context, id, idempotencyKey string) (*invoice.Invoice, error) {
	if err := s.enter(OpVoid, id); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		s.mu.Lock()
		prior, ok := s.voids[idempotencyKey]
		s.mu.Unlock()
		if ok {
			return prior.Copy(), nil
		}
	}
	var updated *invoice.Invoice
	err := s.Mutate(ctx, id, func(inv *invoice.Invoice) (*invoice.Invoice, error) {
		if inv.Status != types.InvoiceStatusOpen {
			return nil, ierr.NewError("only open invoices can be voided").
				WithHintf("Invoice %s is %s", id, inv.Status).
				Mark(ierr.ErrInvalidOperation)
		}
		cp := inv.Copy()
		cp.Status = types.InvoiceStatusVoid
		cp.AmountRemaining = 0
		updated = cp.Copy()
		return cp, nil
	})
	if err != nil {
		return nil, s.fail(OpVoid, err)
	}
	if idempotencyKey != "" {
		s.mu.Lock()
		s.voids[idempotencyKey] = updated.Copy()
		s.mu.Unlock()
	}
	return updated, nil
}

// VoidKeys returns the idempotency keys of successful voids.
func (s *InMemoryInvoiceStore) VoidKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.voids)
}

func (s *InMemoryInvoiceStore) CreateAdjustmentLineItem(ctx context.Context, item *invoice.AdjustmentLineItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}
	if err := s.enter(OpAdjustment, item.InvoiceID); err != nil {
		return "", err
	}
	err := s.Mutate(ctx, item.InvoiceID, func(inv *invoice.Invoice) (*invoice.Invoice, error) {
		if inv.Status != types.InvoiceStatusDraft {
			return nil, ierr.NewError("invoice items can only be added to drafts").
				WithHintf("Invoice %s is %s", item.InvoiceID, inv.Status).
				Mark(ierr.ErrInvalidOperation)
		}
		cp := inv.Copy()
		cp.AmountDue += item.Amount
		if cp.AmountDue < 0 {
			cp.AmountDue = 0
		}
		cp.AmountRemaining = cp.AmountDue
		return cp, nil
	})
	if err != nil {
		return "", s.fail(OpAdjustment, err)
	}

	s.mu.Lock()
	s.adjustments = append(s.adjustments, *item)
	s.mu.Unlock()
	return s.nextID("ii"), nil
}

func (s *InMemoryInvoiceStore) CreateCreditNote(ctx context.Context, note *invoice.CreditNote) (string, error) {
	if err := note.Validate(); err != nil {
		return "", err
	}
	if err := s.enter(OpCreditNote, note.InvoiceID); err != nil {
		return "", err
	}
	err := s.Mutate(ctx, note.InvoiceID, func(inv *invoice.Invoice) (*invoice.Invoice, error) {
		if inv.Status != types.InvoiceStatusOpen {
			return nil, ierr.NewError("credit notes require an open invoice").
				WithHintf("Invoice %s is %s", note.InvoiceID, inv.Status).
				Mark(ierr.ErrInvalidOperation)
		}
		if note.Amount > inv.AmountRemaining {
			return nil, ierr.NewError("credit note exceeds amount remaining").
				WithHintf("Invoice %s has %d remaining", note.InvoiceID, inv.AmountRemaining).
				Mark(ierr.ErrInvalidOperation)
		}
		cp := inv.Copy()
		cp.AmountRemaining -= note.Amount
		if cp.AmountRemaining == 0 {
			cp.Status = types.InvoiceStatusPaid
		}
		return cp, nil
	})
	if err != nil {
		return "", s.fail(OpCreditNote, err)
	}

	s.mu.Lock()
	s.creditNotes = append(s.creditNotes, *note)
	s.mu.Unlock()
	return s.nextID("cn"), nil
}
