package cache

import "time"

const (
	ExpiryDefaultInMemory = 30 * time.Minute
	ExpiryDefaultRedis    = 5 * time.Minute

	// ExpirySettlementClaim bounds how long an unfinished settlement blocks a replay.
	ExpirySettlementClaim = 15 * time.Minute
)
