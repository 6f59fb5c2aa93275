package invoice

import (
	ierr "github.com/flexprice/billingops/internal/errors"
)

// AdjustmentLineItem is a negative invoice item that lowers a draft's future finalized total.
type AdjustmentLineItem struct {
	InvoiceID      string `json:"invoice_id"`
	CustomerID     string `json:"customer_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"-"`
}

func (i *AdjustmentLineItem) Validate() error {
	if i.InvoiceID == "" || i.CustomerID == "" {
		return ierr.NewError("invoice_id and customer_id are required").
			WithHint("Adjustment line item must reference an invoice and customer").
			Mark(ierr.ErrValidation)
	}
	if i.Amount >= 0 {
		return ierr.NewError("adjustment amount must be negative").
			WithHint("Adjustment line items reduce the invoice total").
			WithReportableDetails(map[string]interface{}{
				"amount": i.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CreditNote reduces the amount remaining on a finalized invoice.
type CreditNote struct {
	InvoiceID      string `json:"invoice_id"`
	Amount         int64  `json:"amount"`
	Memo           string `json:"memo"`
	IdempotencyKey string `json:"-"`
}

func (n *CreditNote) Validate() error {
	if n.InvoiceID == "" {
		return ierr.NewError("invoice_id is required").
			WithHint("Credit note must reference an invoice").
			Mark(ierr.ErrValidation)
	}
	if n.Amount <= 0 {
		return ierr.NewError("credit note amount must be positive").
			WithHint("Credit note amount must be greater than 0").
			WithReportableDetails(map[string]interface{}{
				"amount": n.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
