package invoice

import (
	"strconv"
	"time"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PaymentHistoryEntry is one settlement applied to an invoice.
type PaymentHistoryEntry struct {
	SourceID  string `json:"sourceId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
}

// ParsePaymentHistory decodes the paymentHistory metadata value. Empty input is an empty history.
func ParsePaymentHistory(raw string) ([]PaymentHistoryEntry, error) {
	if raw == "" {
		return []PaymentHistoryEntry{}, nil
	}
	var entries []PaymentHistoryEntry
	if err := json.UnmarshalFromString(raw, &entries); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invoice payment history is not valid JSON").
			Mark(ierr.ErrValidation)
	}
	if entries == nil {
		entries = []PaymentHistoryEntry{}
	}
	return entries, nil
}

func MarshalPaymentHistory(entries []PaymentHistoryEntry) (string, error) {
	if entries == nil {
		entries = []PaymentHistoryEntry{}
	}
	out, err := json.MarshalToString(entries)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to encode invoice payment history").
			Mark(ierr.ErrInternal)
	}
	return out, nil
}

// SumHistory is the authoritative totalPaid.
func SumHistory(entries []PaymentHistoryEntry) int64 {
	return lo.SumBy(entries, func(e PaymentHistoryEntry) int64 { return e.Amount })
}

// HasSource reports whether sourceID already wrote an entry.
func HasSource(entries []PaymentHistoryEntry, sourceID string) bool {
	return lo.ContainsBy(entries, func(e PaymentHistoryEntry) bool { return e.SourceID == sourceID })
}

// PaymentHistory returns the parsed ledger. A corrupt ledger is treated as empty.
func (i *Invoice) PaymentHistory() []PaymentHistoryEntry {
	entries, err := ParsePaymentHistory(i.Metadata.Get(types.MetadataKeyPaymentHistory))
	if err != nil {
		return []PaymentHistoryEntry{}
	}
	return entries
}

// TotalPaid reads the cached totalPaid. Missing or malformed values read as 0.
func (i *Invoice) TotalPaid() int64 {
	v, _ := i.Metadata.GetInt64(types.MetadataKeyTotalPaid)
	return v
}

// LedgerUpdate describes one append to an invoice's ledger.
type LedgerUpdate struct {
	Entry PaymentHistoryEntry
	// Settled tags a fully settled invoice whose terminal transition did not happen.
	Settled bool
	// BaseAmountDue is the draft amount before any adjustment item; zero means the invoice's AmountDue.
	BaseAmountDue int64
}

// ApplyLedgerUpdate returns the metadata to write for update on top of the invoice's current ledger.
// ok is false when the entry's source is already recorded.
func (i *Invoice) ApplyLedgerUpdate(update LedgerUpdate) (types.Metadata, bool, error) {
	history := i.PaymentHistory()
	if HasSource(history, update.Entry.SourceID) {
		return nil, false, nil
	}
	history = append(history, update.Entry)

	encoded, err := MarshalPaymentHistory(history)
	if err != nil {
		return nil, false, err
	}
	if len(encoded) > types.MaxMetadataValueLength {
		return nil, false, ierr.NewError("payment history exceeds provider metadata limit").
			WithHintf("Ledger of invoice %s is too long to store in metadata", i.ID).
			WithReportableDetails(map[string]interface{}{
				"invoice_id": i.ID,
				"entries":    len(history),
				"length":     len(encoded),
				"limit":      types.MaxMetadataValueLength,
			}).
			Mark(ierr.ErrValidation)
	}

	md := types.Metadata{
		types.MetadataKeyPaymentHistory:          encoded,
		types.MetadataKeyTotalPaid:               strconv.FormatInt(SumHistory(history), 10),
		types.MetadataKeyLastPaymentAmount:       strconv.FormatInt(update.Entry.Amount, 10),
		types.MetadataKeyLastPaymentDate:         update.Entry.Timestamp,
		types.MetadataKeyPaidViaManualSettlement: "true",
		types.MetadataKeyLedgerVersion:           strconv.FormatInt(i.LedgerVersion()+1, 10),
	}
	if i.Status == types.InvoiceStatusDraft {
		if _, ok := i.Metadata.GetInt64(types.MetadataKeyOriginalAmountDue); !ok {
			base := lo.Ternary(update.BaseAmountDue > 0, update.BaseAmountDue, i.AmountDue)
			md[types.MetadataKeyOriginalAmountDue] = strconv.FormatInt(base, 10)
		}
	}
	if update.Settled {
		md[types.MetadataKeySettled] = "true"
	}
	return md, true, nil
}

// NewSettlementEntry builds a ledger entry stamped at now.
func NewSettlementEntry(sourceID string, amount int64, reason string, now time.Time) PaymentHistoryEntry {
	return PaymentHistoryEntry{
		SourceID:  sourceID,
		Amount:    amount,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
		Kind:      types.PaymentHistoryKindSettlement,
	}
}
