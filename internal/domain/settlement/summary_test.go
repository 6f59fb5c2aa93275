package settlement

import (
	"fmt"
	"testing"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryRoundTrip(t *testing.T) {
	result := &AllocationResult{
		Applied: []AppliedInvoice{
			{InvoiceID: "in_b", InvoiceNumber: "INV-2", AmountApplied: 4000},
			{InvoiceID: "in_a", InvoiceNumber: "", AmountApplied: 3000},
		},
		RemainingCredit: 3000,
	}

	md := NewSummary(result).Metadata()
	assert.Equal(t, "in_b,in_a", md[types.MetadataKeyInvoicesPaid])
	assert.Equal(t, "INV-2,", md[types.MetadataKeyInvoiceNumbersPaid])
	assert.Equal(t, "4000,3000", md[types.MetadataKeyAmountsPaid])
	assert.Equal(t, "7000", md[types.MetadataKeyTotalAppliedToInvoices])
	assert.Equal(t, "3000", md[types.MetadataKeyCreditAdded])

	parsed, ok := ParseSummary(md)
	require.True(t, ok)
	assert.Equal(t, result, parsed.Result())
}

func TestParseSummary_Unrecorded(t *testing.T) {
	_, ok := ParseSummary(types.Metadata{types.MetadataKeyReason: "x"})
	assert.False(t, ok)
}

func TestSummary_CreditOnly(t *testing.T) {
	md := NewSummary(&AllocationResult{RemainingCredit: 1000}).Metadata()
	parsed, ok := ParseSummary(md)
	require.True(t, ok)
	assert.Empty(t, parsed.InvoicesPaid)
	assert.Equal(t, int64(0), parsed.TotalAppliedToInvoices)
	assert.Equal(t, int64(1000), parsed.Result().RemainingCredit)
	assert.Empty(t, parsed.Result().Applied)
}

func TestEventValidate(t *testing.T) {
	valid := Event{SourceID: "pi_1", SourceKind: types.SettlementSourceKindCharge, CustomerID: "cus_1", Amount: 100, Currency: "usd"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(e *Event)
	}{
		{"zero amount", func(e *Event) { e.Amount = 0 }},
		{"negative amount", func(e *Event) { e.Amount = -5 }},
		{"missing customer", func(e *Event) { e.CustomerID = "" }},
		{"missing currency", func(e *Event) { e.Currency = "" }},
		{"missing source", func(e *Event) { e.SourceID = "" }},
		{"bad kind", func(e *Event) { e.SourceKind = "refund" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestSourceToEvent(t *testing.T) {
	e := &Event{
		SourceID:           "pi_9",
		SourceKind:         types.SettlementSourceKindCharge,
		CustomerID:         "cus_1",
		Amount:             500,
		Currency:           "usd",
		Reason:             "pay now",
		CorrelationID:      "bill_1",
		SelectedInvoiceIDs: []string{"in_2", "in_1"},
	}
	src := &Source{
		Ref:      e.Ref(),
		Amount:   500,
		Currency: "usd",
		Metadata: EventMetadata(e, "bill_id"),
	}
	assert.Equal(t, e, src.ToEvent("bill_id"))
}

func TestValidateMetadataSize(t *testing.T) {
	result := &AllocationResult{}
	for i := 0; i < 40; i++ {
		result.Applied = append(result.Applied, AppliedInvoice{
			InvoiceID:     fmt.Sprintf("in_%012d", i),
			AmountApplied: 100,
		})
	}

	md := NewSummary(result).Metadata()
	err := ValidateMetadataSize(md)
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Equal(t, []string{types.MetadataKeyInvoicesPaid}, md.OversizedKeys())

	assert.NoError(t, ValidateMetadataSize(NewSummary(&AllocationResult{
		Applied: result.Applied[:5],
	}).Metadata()))
}
