package types

import (
	"fmt"
	"strings"
)

// SettlementSourceKind identifies where the funds of a settlement came from.
type SettlementSourceKind string

const (
	SettlementSourceKindCharge       SettlementSourceKind = "charge"
	SettlementSourceKindManualCredit SettlementSourceKind = "manual_credit"
)

func (k SettlementSourceKind) Validate() error {
	switch k {
	case SettlementSourceKindCharge, SettlementSourceKindManualCredit:
		return nil
	default:
		return fmt.Errorf("unknown settlement source kind %q", string(k))
	}
}

// PaymentHistoryKindSettlement tags ledger entries written by the allocator.
const PaymentHistoryKindSettlement = "settlement"

// ChargeStatus is the provider status of a charge.
type ChargeStatus string

const (
	ChargeStatusSucceeded      ChargeStatus = "succeeded"
	ChargeStatusRequiresAction ChargeStatus = "requires_action"
	ChargeStatusProcessing     ChargeStatus = "processing"
	ChargeStatusFailed         ChargeStatus = "failed"
	ChargeStatusCanceled       ChargeStatus = "canceled"
)

// Settlement source metadata keys.
const (
	MetadataKeyReason                 = "reason"
	MetadataKeySelectedInvoiceIDs     = "selectedInvoiceIds"
	MetadataKeyApplyToAll             = "applyToAll"
	MetadataKeyCustomerID             = "customerId"
	MetadataKeySettlementSourceID     = "settlementSourceId"
	MetadataKeyInvoicesPaid           = "invoicesPaid"
	MetadataKeyInvoiceNumbersPaid     = "invoiceNumbersPaid"
	MetadataKeyAmountsPaid            = "amountsPaid"
	MetadataKeyTotalAppliedToInvoices = "totalAppliedToInvoices"
	MetadataKeyCreditAdded            = "creditAdded"
	MetadataKeyGrantedBy              = "grantedBy"
	MetadataKeyRetiredInvoices        = "retiredInvoices"
	MetadataKeyReference              = "reference"
)

// JoinIDs joins ids the way they are stored in metadata.
func JoinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// SplitIDs is the inverse of JoinIDs; blanks are dropped.
func SplitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
