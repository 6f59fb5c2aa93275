package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithPrefix(t *testing.T) {
	id := GenerateUUIDWithPrefix(UUID_PREFIX_MANUAL_CREDIT)
	assert.True(t, strings.HasPrefix(id, "mcr_"), id)
	assert.Len(t, id, len("mcr_")+26)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestGenerateShortIDWithPrefix(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		ref := GenerateShortIDWithPrefix(SHORT_ID_PREFIX_SETTLEMENT)
		assert.True(t, strings.HasPrefix(ref, "STL-"), ref)
		assert.Greater(t, len(ref), len("STL-"))
		seen[ref] = struct{}{}
	}
	assert.Len(t, seen, 100)
}
