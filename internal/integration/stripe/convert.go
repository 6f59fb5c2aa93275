package stripe

import (
	"time"

	domainInvoice "github.com/flexprice/billingops/internal/domain/invoice"
	"github.com/flexprice/billingops/internal/domain/settlement"
	"github.com/flexprice/billingops/internal/types"
	"github.com/stripe/stripe-go/v82"
)

func epoch(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func toInvoice(inv *stripe.Invoice) *domainInvoice.Invoice {
	md := types.Metadata{}
	for k, v := range inv.Metadata {
		md[k] = v
	}
	return &domainInvoice.Invoice{
		ID:                       inv.ID,
		Number:                   inv.Number,
		CustomerID:               customerID(inv.Customer),
		Currency:                 string(inv.Currency),
		Status:                   types.InvoiceStatus(inv.Status),
		AmountDue:                inv.AmountDue,
		AmountRemaining:          inv.AmountRemaining,
		AttemptCount:             inv.AttemptCount,
		DueDate:                  epoch(inv.DueDate),
		AutomaticallyFinalizesAt: epoch(inv.AutomaticallyFinalizesAt),
		CreatedAt:                epoch(inv.Created),
		Metadata:                 md,
	}
}

func toChargeStatus(status stripe.PaymentIntentStatus) types.ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return types.ChargeStatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return types.ChargeStatusRequiresAction
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return types.ChargeStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return types.ChargeStatusCanceled
	default:
		return types.ChargeStatusFailed
	}
}

func toSource(pi *stripe.PaymentIntent) *settlement.Source {
	md := types.Metadata{}
	for k, v := range pi.Metadata {
		md[k] = v
	}
	return &settlement.Source{
		Ref:          settlement.SourceRef{Kind: types.SettlementSourceKindCharge, ID: pi.ID},
		CustomerID:   customerID(pi.Customer),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       toChargeStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
		Metadata:     md,
		CreatedAt:    epoch(pi.Created),
	}
}
