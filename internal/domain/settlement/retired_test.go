package settlement

import (
	"testing"

	"github.com/flexprice/billingops/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRetiredInvoices(t *testing.T) {
	md := RetiredInvoices{"in_b": 4000, "in_a": 250}.Metadata()
	assert.Equal(t, "in_a:250,in_b:4000", md[types.MetadataKeyRetiredInvoices])

	assert.Equal(t, RetiredInvoices{"in_a": 250, "in_b": 4000}, ParseRetiredInvoices(md))
}

func TestParseRetiredInvoices_DropsMalformedPairs(t *testing.T) {
	md := types.Metadata{types.MetadataKeyRetiredInvoices: "in_a:100, in_b ,:5,in_c:x,in_d:-3,in_e:7"}
	assert.Equal(t, RetiredInvoices{"in_a": 100, "in_e": 7}, ParseRetiredInvoices(md))
	assert.Empty(t, ParseRetiredInvoices(types.Metadata{}))
}
