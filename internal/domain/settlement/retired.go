package settlement

import (
	"slices"
	"strconv"
	"strings"

	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
)

// RetiredInvoices maps an invoice id to the amount a source applied before deleting it.
// Deleted drafts cannot carry a ledger, so the source keeps this record for reruns.
type RetiredInvoices map[string]int64

// ParseRetiredInvoices reads the "id:amount" pairs recorded on a source. Malformed pairs are dropped.
func ParseRetiredInvoices(md types.Metadata) RetiredInvoices {
	out := RetiredInvoices{}
	for _, pair := range types.SplitIDs(md.Get(types.MetadataKeyRetiredInvoices)) {
		id, raw, ok := strings.Cut(pair, ":")
		if !ok || id == "" {
			continue
		}
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount <= 0 {
			continue
		}
		out[id] = amount
	}
	return out
}

// Metadata encodes the record with ids in sorted order.
func (r RetiredInvoices) Metadata() types.Metadata {
	ids := lo.Keys(r)
	slices.Sort(ids)
	return types.Metadata{
		types.MetadataKeyRetiredInvoices: types.JoinIDs(lo.Map(ids, func(id string, _ int) string {
			return id + ":" + strconv.FormatInt(r[id], 10)
		})),
	}
}
