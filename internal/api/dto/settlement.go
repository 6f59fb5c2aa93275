package dto

import (
	"time"

	"github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/flexprice/billingops/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// SettlementSelection says which invoices a settlement may pay.
type SettlementSelection struct {
	CorrelationID      string   `json:"correlation_id,omitempty"`
	SelectedInvoiceIDs []string `json:"selected_invoice_ids,omitempty" validate:"omitempty,dive,required"`
	ApplyToAll         bool     `json:"apply_to_all"`
}

func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithHint("Amount must be greater than 0").
			WithReportableDetails(map[string]interface{}{
				"amount": amount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if types.ToMinorUnits(amount, currency) <= 0 {
		return ierr.NewError("amount is below the currency's minor unit").
			WithHintf("Amount %s is too small for %s", amount.String(), currency).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PayNowRequest charges a saved payment method and settles the proceeds.
type PayNowRequest struct {
	SettlementSelection
	CustomerID      string          `json:"-"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" swaggertype:"string"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	Reason          string          `json:"reason,omitempty"`
}

func (r *PayNowRequest) Validate() error {
	if r.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return validateAmount(r.Amount, r.Currency)
}

// GrantCreditRequest grants a staff-approved credit and settles it like a payment.
type GrantCreditRequest struct {
	SettlementSelection
	CustomerID string          `json:"-"`
	Amount     decimal.Decimal `json:"amount" swaggertype:"string"`
	Currency   string          `json:"currency" validate:"required,len=3"`
	Reason     string          `json:"reason" validate:"required"`
}

func (r *GrantCreditRequest) Validate() error {
	if r.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return validateAmount(r.Amount, r.Currency)
}

// PreviewSettlementRequest plans a settlement without writing anything.
type PreviewSettlementRequest struct {
	SettlementSelection
	CustomerID string          `json:"-"`
	Amount     decimal.Decimal `json:"amount" swaggertype:"string"`
	Currency   string          `json:"currency" validate:"required,len=3"`
}

func (r *PreviewSettlementRequest) Validate() error {
	if r.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return validateAmount(r.Amount, r.Currency)
}

// AppliedInvoiceResponse is one invoice a settlement paid.
type AppliedInvoiceResponse struct {
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	AmountApplied decimal.Decimal `json:"amount_applied" swaggertype:"string"`
}

// AllocationResponse is the allocation of a settlement in major units.
type AllocationResponse struct {
	Currency     string                   `json:"currency"`
	Applied      []AppliedInvoiceResponse `json:"applied"`
	TotalApplied decimal.Decimal          `json:"total_applied" swaggertype:"string"`
	CreditAdded  decimal.Decimal          `json:"credit_added" swaggertype:"string"`
}

func NewAllocationResponse(result *settlement.AllocationResult, currency string) AllocationResponse {
	return AllocationResponse{
		Currency: currency,
		Applied: lo.Map(result.Applied, func(a settlement.AppliedInvoice, _ int) AppliedInvoiceResponse {
			return AppliedInvoiceResponse{
				InvoiceID:     a.InvoiceID,
				InvoiceNumber: a.InvoiceNumber,
				AmountApplied: types.FromMinorUnits(a.AmountApplied, currency),
			}
		}),
		TotalApplied: types.FromMinorUnits(result.TotalApplied(), currency),
		CreditAdded:  types.FromMinorUnits(result.RemainingCredit, currency),
	}
}

// SettlementResponse is a completed settlement.
type SettlementResponse struct {
	AllocationResponse
	SourceID            string                     `json:"source_id"`
	SourceKind          types.SettlementSourceKind `json:"source_kind"`
	Reference           string                     `json:"reference,omitempty"`
	CustomerID          string                     `json:"customer_id"`
	Amount              decimal.Decimal            `json:"amount" swaggertype:"string"`
	CreditIssued        bool                       `json:"credit_issued"`
	CreditTransactionID string                     `json:"credit_transaction_id,omitempty"`
	Recorded            bool                       `json:"recorded"`
	Replayed            bool                       `json:"replayed"`
}

// PayNowResponse carries the settlement, or the client secret when the charge needs a 3-D Secure challenge.
type PayNowResponse struct {
	ChargeID       string              `json:"charge_id"`
	Status         types.ChargeStatus  `json:"status"`
	RequiresAction bool                `json:"requires_action"`
	ClientSecret   string              `json:"client_secret,omitempty"`
	Settlement     *SettlementResponse `json:"settlement,omitempty"`
}

// OutstandingInvoiceResponse is an invoice in apply-to-all order.
type OutstandingInvoiceResponse struct {
	InvoiceID          string              `json:"invoice_id"`
	InvoiceNumber      string              `json:"invoice_number,omitempty"`
	Status             types.InvoiceStatus `json:"status"`
	Failed             bool                `json:"failed"`
	Currency           string              `json:"currency"`
	AmountDue          decimal.Decimal     `json:"amount_due" swaggertype:"string"`
	TotalPaid          decimal.Decimal     `json:"total_paid" swaggertype:"string"`
	EffectiveRemaining decimal.Decimal     `json:"effective_remaining" swaggertype:"string"`
	CorrelationID      string              `json:"correlation_id,omitempty"`
	DueDate            *time.Time          `json:"due_date,omitempty"`
}

func NewOutstandingInvoiceResponse(inv *invoice.Invoice, effectiveRemaining int64, correlationKey string) *OutstandingInvoiceResponse {
	resp := &OutstandingInvoiceResponse{
		InvoiceID:          inv.ID,
		InvoiceNumber:      inv.Number,
		Status:             inv.Status,
		Failed:             inv.IsFailed(),
		Currency:           inv.Currency,
		AmountDue:          types.FromMinorUnits(inv.BaseAmountDue(), inv.Currency),
		TotalPaid:          types.FromMinorUnits(inv.TotalPaid(), inv.Currency),
		EffectiveRemaining: types.FromMinorUnits(effectiveRemaining, inv.Currency),
		CorrelationID:      inv.CorrelationID(correlationKey),
	}
	if !inv.DueDate.IsZero() {
		resp.DueDate = lo.ToPtr(inv.DueDate)
	}
	return resp
}

type ListOutstandingInvoicesResponse struct {
	CustomerID string                        `json:"customer_id"`
	Items      []*OutstandingInvoiceResponse `json:"items"`
}

// SettlementReportRow is one line of the settlement report. Tags drive the CSV export.
type SettlementReportRow struct {
	SourceID      string `json:"source_id" csv:"source_id"`
	InvoiceID     string `json:"invoice_id" csv:"invoice_id"`
	InvoiceNumber string `json:"invoice_number" csv:"invoice_number"`
	AmountApplied string `json:"amount_applied" csv:"amount_applied"`
	Currency      string `json:"currency" csv:"currency"`
}

// SettlementReportResponse is the summary recorded on a settlement source.
type SettlementReportResponse struct {
	SourceID     string                     `json:"source_id"`
	SourceKind   types.SettlementSourceKind `json:"source_kind"`
	Reference    string                     `json:"reference,omitempty"`
	CustomerID   string                     `json:"customer_id"`
	Currency     string                     `json:"currency"`
	Amount       decimal.Decimal            `json:"amount" swaggertype:"string"`
	Rows         []*SettlementReportRow     `json:"rows"`
	TotalApplied decimal.Decimal            `json:"total_applied" swaggertype:"string"`
	CreditAdded  decimal.Decimal            `json:"credit_added" swaggertype:"string"`
}

func NewSettlementReportResponse(source *settlement.Source, summary *settlement.Summary) *SettlementReportResponse {
	currency := source.Currency
	result := summary.Result()
	return &SettlementReportResponse{
		SourceID:   source.Ref.ID,
		SourceKind: source.Ref.Kind,
		Reference:  source.Metadata.Get(types.MetadataKeyReference),
		CustomerID: source.CustomerID,
		Currency:   currency,
		Amount:     types.FromMinorUnits(source.Amount, currency),
		Rows: lo.Map(result.Applied, func(a settlement.AppliedInvoice, _ int) *SettlementReportRow {
			return &SettlementReportRow{
				SourceID:      source.Ref.ID,
				InvoiceID:     a.InvoiceID,
				InvoiceNumber: a.InvoiceNumber,
				AmountApplied: types.FromMinorUnits(a.AmountApplied, currency).StringFixed(types.CurrencyExponent(currency)),
				Currency:      currency,
			}
		}),
		TotalApplied: types.FromMinorUnits(summary.TotalAppliedToInvoices, currency),
		CreditAdded:  types.FromMinorUnits(summary.CreditAdded, currency),
	}
}
