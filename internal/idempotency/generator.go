package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope namespaces keys so identical params in different operations never collide
type Scope string

const (
	ScopeCreditNote         Scope = "credit_note"
	ScopeInvoiceItem        Scope = "invoice_item"
	ScopeInvoiceVoid        Scope = "invoice_void"
	ScopeBalanceTransaction Scope = "balance_transaction"
	ScopeCharge             Scope = "charge"
	ScopeSettlement         Scope = "settlement"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey returns a deterministic key for the scope and params.
// Param order does not matter.
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(params[k]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s_%s", scope, hex.EncodeToString(sum[:16]))
}
