package events

import (
	"time"

	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/types"
)

const EventSettlementCompleted = "settlement.completed"

// SettlementCompleted is published after a settlement's summary has been recorded.
type SettlementCompleted struct {
	ID                  string                      `json:"id"`
	EventName           string                      `json:"event_name"`
	SourceID            string                      `json:"source_id"`
	SourceKind          types.SettlementSourceKind  `json:"source_kind"`
	CustomerID          string                      `json:"customer_id"`
	Currency            string                      `json:"currency"`
	Amount              int64                       `json:"amount"`
	CorrelationID       string                      `json:"correlation_id,omitempty"`
	Applied             []settlement.AppliedInvoice `json:"applied"`
	TotalApplied        int64                       `json:"total_applied"`
	CreditAdded         int64                       `json:"credit_added"`
	CreditIssued        bool                        `json:"credit_issued"`
	CreditTransactionID string                      `json:"credit_transaction_id,omitempty"`
	Timestamp           time.Time                   `json:"timestamp"`
}

func NewSettlementCompleted(event *settlement.Event, result *settlement.AllocationResult, creditIssued bool, creditTxnID string) *SettlementCompleted {
	return &SettlementCompleted{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT),
		EventName:           EventSettlementCompleted,
		SourceID:            event.SourceID,
		SourceKind:          event.SourceKind,
		CustomerID:          event.CustomerID,
		Currency:            event.Currency,
		Amount:              event.Amount,
		CorrelationID:       event.CorrelationID,
		Applied:             result.Applied,
		TotalApplied:        result.TotalApplied(),
		CreditAdded:         result.RemainingCredit,
		CreditIssued:        creditIssued,
		CreditTransactionID: creditTxnID,
		Timestamp:           time.Now().UTC(),
	}
}
