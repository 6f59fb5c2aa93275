package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKey(t *testing.T) {
	g := NewGenerator()

	tests := []struct {
		name  string
		a     map[string]interface{}
		b     map[string]interface{}
		same  bool
		scope Scope
	}{
		{
			name:  "same params in any order",
			a:     map[string]interface{}{"source_id": "pi_1", "invoice_id": "in_1", "amount": int64(300)},
			b:     map[string]interface{}{"amount": int64(300), "invoice_id": "in_1", "source_id": "pi_1"},
			same:  true,
			scope: ScopeCreditNote,
		},
		{
			name:  "different amount",
			a:     map[string]interface{}{"source_id": "pi_1", "amount": int64(300)},
			b:     map[string]interface{}{"source_id": "pi_1", "amount": int64(301)},
			same:  false,
			scope: ScopeInvoiceItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := g.GenerateKey(tt.scope, tt.a)
			kb := g.GenerateKey(tt.scope, tt.b)
			assert.True(t, strings.HasPrefix(ka, string(tt.scope)+"_"))
			if tt.same {
				assert.Equal(t, ka, kb)
			} else {
				assert.NotEqual(t, ka, kb)
			}
		})
	}
}

func TestGenerateKey_ScopeSeparation(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"source_id": "pi_1"}
	assert.NotEqual(t, g.GenerateKey(ScopeCreditNote, params), g.GenerateKey(ScopeBalanceTransaction, params))
}
