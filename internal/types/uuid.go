package types

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

const (
	UUID_PREFIX_MANUAL_CREDIT = "mcr"
	UUID_PREFIX_REQUEST       = "req"
	UUID_PREFIX_EVENT         = "evt"

	SHORT_ID_PREFIX_SETTLEMENT = "STL-"
)

// GenerateUUID returns a lowercase ULID.
func GenerateUUID() string {
	return strings.ToLower(ulid.Make().String())
}

// GenerateUUIDWithPrefix returns prefix_<ulid>.
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

// GenerateShortIDWithPrefix returns a human friendly reference such as STL-x8K2pQ.
// Falls back to a ulid suffix if the short id generator fails.
func GenerateShortIDWithPrefix(prefix string) string {
	id, err := shortid.Generate()
	if err != nil {
		id = GenerateUUID()
	}
	return prefix + id
}
