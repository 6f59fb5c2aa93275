package settlement

import (
	"strconv"
	"strings"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

// Summary is the audit trail written back onto a settlement source.
type Summary struct {
	InvoicesPaid           []string
	InvoiceNumbersPaid     []string
	AmountsPaid            []int64
	TotalAppliedToInvoices int64
	CreditAdded            int64
}

func NewSummary(result *AllocationResult) *Summary {
	return &Summary{
		InvoicesPaid:           lo.Map(result.Applied, func(a AppliedInvoice, _ int) string { return a.InvoiceID }),
		InvoiceNumbersPaid:     lo.Map(result.Applied, func(a AppliedInvoice, _ int) string { return a.InvoiceNumber }),
		AmountsPaid:            lo.Map(result.Applied, func(a AppliedInvoice, _ int) int64 { return a.AmountApplied }),
		TotalAppliedToInvoices: result.TotalApplied(),
		CreditAdded:            result.RemainingCredit,
	}
}

// Metadata encodes the summary as comma-joined metadata values.
// Invoice numbers are positional, so missing numbers stay as empty slots.
func (s *Summary) Metadata() types.Metadata {
	return types.Metadata{
		types.MetadataKeyInvoicesPaid:           strings.Join(s.InvoicesPaid, ","),
		types.MetadataKeyInvoiceNumbersPaid:     strings.Join(s.InvoiceNumbersPaid, ","),
		types.MetadataKeyAmountsPaid:            strings.Join(lo.Map(s.AmountsPaid, func(a int64, _ int) string { return strconv.FormatInt(a, 10) }), ","),
		types.MetadataKeyTotalAppliedToInvoices: strconv.FormatInt(s.TotalAppliedToInvoices, 10),
		types.MetadataKeyCreditAdded:            strconv.FormatInt(s.CreditAdded, 10),
	}
}

// ValidateMetadataSize rejects metadata Stripe would refuse because a value is too long.
func ValidateMetadataSize(md types.Metadata) error {
	keys := md.OversizedKeys()
	if len(keys) == 0 {
		return nil
	}
	return ierr.NewError("settlement metadata exceeds provider limit").
		WithHintf("Metadata values over %d characters: %s", types.MaxMetadataValueLength, strings.Join(keys, ", ")).
		WithReportableDetails(map[string]interface{}{
			"keys":  keys,
			"limit": types.MaxMetadataValueLength,
		}).
		Mark(ierr.ErrValidation)
}

// ParseSummary reads a recorded summary. ok is false when the source was never recorded.
func ParseSummary(md types.Metadata) (*Summary, bool) {
	total, ok := md.GetInt64(types.MetadataKeyTotalAppliedToInvoices)
	if !ok {
		return nil, false
	}
	credit, _ := md.GetInt64(types.MetadataKeyCreditAdded)

	s := &Summary{
		InvoicesPaid:           types.SplitIDs(md.Get(types.MetadataKeyInvoicesPaid)),
		TotalAppliedToInvoices: total,
		CreditAdded:            credit,
	}

	numbers := md.Get(types.MetadataKeyInvoiceNumbersPaid)
	if numbers != "" || len(s.InvoicesPaid) > 0 {
		s.InvoiceNumbersPaid = strings.Split(numbers, ",")
	}
	for _, raw := range types.SplitIDs(md.Get(types.MetadataKeyAmountsPaid)) {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			v = 0
		}
		s.AmountsPaid = append(s.AmountsPaid, v)
	}
	return s, true
}

// Result rebuilds the allocation result from the summary.
func (s *Summary) Result() *AllocationResult {
	result := &AllocationResult{RemainingCredit: s.CreditAdded}
	for i, id := range s.InvoicesPaid {
		applied := AppliedInvoice{InvoiceID: id}
		if i < len(s.InvoiceNumbersPaid) {
			applied.InvoiceNumber = s.InvoiceNumbersPaid[i]
		}
		if i < len(s.AmountsPaid) {
			applied.AmountApplied = s.AmountsPaid[i]
		}
		result.Applied = append(result.Applied, applied)
	}
	return result
}
