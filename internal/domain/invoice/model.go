package invoice

import (
	"time"

	"github.com/flexprice/billingops/internal/types"
)

// Invoice is the provider invoice as seen by the settlement ledger.
// Times are zero when the provider leaves them unset.
type Invoice struct {
	ID                       string              `json:"id"`
	Number                   string              `json:"number"`
	CustomerID               string              `json:"customer_id"`
	Currency                 string              `json:"currency"`
	Status                   types.InvoiceStatus `json:"status"`
	AmountDue                int64               `json:"amount_due"`
	AmountRemaining          int64               `json:"amount_remaining"`
	AttemptCount             int64               `json:"attempt_count"`
	DueDate                  time.Time           `json:"due_date"`
	AutomaticallyFinalizesAt time.Time           `json:"automatically_finalizes_at"`
	CreatedAt                time.Time           `json:"created_at"`
	Metadata                 types.Metadata      `json:"metadata"`
}

// IsFailed reports an open invoice the provider already tried and failed to collect.
func (i *Invoice) IsFailed() bool {
	return i.Status == types.InvoiceStatusOpen && i.AttemptCount > 0
}

// CorrelationID returns the bill grouping id stored under key.
func (i *Invoice) CorrelationID(key string) string {
	return i.Metadata.Get(key)
}

// ScheduledFinalizeAt is the locally scheduled finalize time, zero when unset.
func (i *Invoice) ScheduledFinalizeAt() time.Time {
	if v, ok := i.Metadata.GetInt64(types.MetadataKeyScheduledFinalizeAt); ok && v > 0 {
		return time.Unix(v, 0).UTC()
	}
	return time.Time{}
}

// BaseAmountDue is the draft amount the ledger is measured against.
// Adjustment line items lower AmountDue, so the pre-adjustment amount wins when recorded.
func (i *Invoice) BaseAmountDue() int64 {
	if v, ok := i.Metadata.GetInt64(types.MetadataKeyOriginalAmountDue); ok {
		return v
	}
	return i.AmountDue
}

// LedgerVersion is the optimistic concurrency counter of the metadata ledger.
func (i *Invoice) LedgerVersion() int64 {
	v, _ := i.Metadata.GetInt64(types.MetadataKeyLedgerVersion)
	return v
}

// Copy returns a deep copy safe to mutate.
func (i *Invoice) Copy() *Invoice {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Metadata = i.Metadata.Clone()
	return &cp
}
