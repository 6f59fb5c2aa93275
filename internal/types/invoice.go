package types

// InvoiceStatus mirrors the provider's invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// IsSettleable reports whether an invoice in this status may receive funds.
func (s InvoiceStatus) IsSettleable() bool {
	return s == InvoiceStatusDraft || s == InvoiceStatusOpen
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// Invoice metadata keys owned by the settlement ledger.
const (
	MetadataKeyPaymentHistory          = "paymentHistory"
	MetadataKeyTotalPaid               = "totalPaid"
	MetadataKeyLastPaymentAmount       = "lastPaymentAmount"
	MetadataKeyLastPaymentDate         = "lastPaymentDate"
	MetadataKeyPaidViaManualSettlement = "paidViaManualSettlement"
	MetadataKeyLedgerVersion           = "ledgerVersion"
	MetadataKeyOriginalAmountDue       = "originalAmountDue"
	MetadataKeyScheduledFinalizeAt     = "scheduledFinalizeAt"
	MetadataKeySettled                 = "settled"
)
