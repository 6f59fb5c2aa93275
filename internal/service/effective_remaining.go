package service

import (
	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/types"
)

// EffectiveRemaining is what an invoice still needs from settlements.
//
// Drafts are measured against the ledger: the base amount due minus totalPaid, floored at 0.
// Open invoices trust the provider's amount_remaining. Anything else needs nothing.
func EffectiveRemaining(inv *invoice.Invoice) int64 {
	if inv == nil {
		return 0
	}

	switch inv.Status {
	case types.InvoiceStatusDraft:
		return max(0, inv.BaseAmountDue()-inv.TotalPaid())
	case types.InvoiceStatusOpen:
		return max(0, inv.AmountRemaining)
	default:
		return 0
	}
}
