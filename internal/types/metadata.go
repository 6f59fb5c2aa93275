package types

import (
	"maps"
	"slices"
	"strconv"
)

// MaxMetadataValueLength is the longest value Stripe accepts for a metadata key.
const MaxMetadataValueLength = 500

// Metadata is the provider's string→string bag attached to invoices and settlement sources.
type Metadata map[string]string

// OversizedKeys lists, in sorted order, the keys whose values exceed MaxMetadataValueLength.
func (m Metadata) OversizedKeys() []string {
	var keys []string
	for k, v := range m {
		if len(v) > MaxMetadataValueLength {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a copy safe to mutate.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// GetInt64 parses key as a base 10 integer. Missing or malformed values yield ok=false.
func (m Metadata) GetInt64(key string) (int64, bool) {
	raw := m.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (m Metadata) GetBool(key string) bool {
	v, err := strconv.ParseBool(m.Get(key))
	return err == nil && v
}
