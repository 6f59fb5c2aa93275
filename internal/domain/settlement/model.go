package settlement

import (
	"time"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

// SourceRef identifies the record the funds of a settlement came from.
type SourceRef struct {
	Kind types.SettlementSourceKind `json:"kind"`
	ID   string                     `json:"id"`
}

func (r SourceRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Event is one inflow of funds to be distributed across a customer's invoices.
type Event struct {
	SourceID           string                     `json:"source_id"`
	SourceKind         types.SettlementSourceKind `json:"source_kind"`
	CustomerID         string                     `json:"customer_id"`
	Amount             int64                      `json:"amount"`
	Currency           string                     `json:"currency"`
	Reason             string                     `json:"reason"`
	CorrelationID      string                     `json:"correlation_id"`
	SelectedInvoiceIDs []string                   `json:"selected_invoice_ids"`
	ApplyToAll         bool                       `json:"apply_to_all"`
}

func (e *Event) Ref() SourceRef {
	return SourceRef{Kind: e.SourceKind, ID: e.SourceID}
}

// Validate checks the preconditions a settlement must meet before any invoice is touched.
func (e *Event) Validate() error {
	if e.Amount <= 0 {
		return ierr.NewError("settlement amount must be positive").
			WithHint("Amount must be greater than 0").
			WithReportableDetails(map[string]interface{}{
				"amount": e.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if e.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if e.Currency == "" {
		return ierr.NewError("currency is required").
			WithHint("Currency is required").
			Mark(ierr.ErrValidation)
	}
	if e.SourceID == "" {
		return ierr.NewError("source_id is required").
			WithHint("Settlement source ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := e.SourceKind.Validate(); err != nil {
		return ierr.WithError(err).
			WithHint("Settlement source kind must be charge or manual_credit").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AppliedInvoice is one step of an allocation.
type AppliedInvoice struct {
	InvoiceID     string `json:"invoice_id" csv:"invoice_id"`
	InvoiceNumber string `json:"invoice_number" csv:"invoice_number"`
	AmountApplied int64  `json:"amount_applied" csv:"amount_applied"`
}

// AllocationResult is the in-memory outcome of one allocation pass.
// RemainingCredit always equals the settled amount minus the applied total.
type AllocationResult struct {
	Applied         []AppliedInvoice `json:"applied"`
	RemainingCredit int64            `json:"remaining_credit"`
}

func (r *AllocationResult) TotalApplied() int64 {
	return lo.SumBy(r.Applied, func(a AppliedInvoice) int64 { return a.AmountApplied })
}

// Source is a settlement source record: a charge at the provider or a locally stored manual credit.
type Source struct {
	Ref          SourceRef          `json:"ref"`
	CustomerID   string             `json:"customer_id"`
	Amount       int64              `json:"amount"`
	Currency     string             `json:"currency"`
	Status       types.ChargeStatus `json:"status,omitempty"`
	ClientSecret string             `json:"-"`
	Metadata     types.Metadata     `json:"metadata"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ToEvent rebuilds the settlement event from the source's own metadata.
func (s *Source) ToEvent(correlationKey string) *Event {
	return &Event{
		SourceID:           s.Ref.ID,
		SourceKind:         s.Ref.Kind,
		CustomerID:         lo.Ternary(s.CustomerID != "", s.CustomerID, s.Metadata.Get(types.MetadataKeyCustomerID)),
		Amount:             s.Amount,
		Currency:           s.Currency,
		Reason:             s.Metadata.Get(types.MetadataKeyReason),
		CorrelationID:      s.Metadata.Get(correlationKey),
		SelectedInvoiceIDs: types.SplitIDs(s.Metadata.Get(types.MetadataKeySelectedInvoiceIDs)),
		ApplyToAll:         s.Metadata.GetBool(types.MetadataKeyApplyToAll),
	}
}

// EventMetadata is the metadata a new source carries so the event can be rebuilt from it later.
func EventMetadata(e *Event, correlationKey string) types.Metadata {
	md := types.Metadata{
		types.MetadataKeyReason:     e.Reason,
		types.MetadataKeyCustomerID: e.CustomerID,
		types.MetadataKeyApplyToAll: lo.Ternary(e.ApplyToAll, "true", "false"),
	}
	if e.CorrelationID != "" {
		md[correlationKey] = e.CorrelationID
	}
	if len(e.SelectedInvoiceIDs) > 0 {
		md[types.MetadataKeySelectedInvoiceIDs] = types.JoinIDs(e.SelectedInvoiceIDs)
	}
	return md
}

// ChargeRequest creates a charge confirmed immediately against a saved payment method.
type ChargeRequest struct {
	CustomerID      string
	Amount          int64
	Currency        string
	PaymentMethodID string
	Description     string
	Metadata        types.Metadata
	IdempotencyKey  string
}

// CreditTransaction is a customer balance credit. Amount is the positive credit.
type CreditTransaction struct {
	CustomerID     string
	Amount         int64
	Currency       string
	Description    string
	Metadata       types.Metadata
	IdempotencyKey string
}
