package types

import "time"

const DefaultLockTimeout = 30 * time.Second

// LockRequest describes an exclusive section keyed by Key.
// Timeout nil means DefaultLockTimeout; zero or negative means fail fast.
type LockRequest struct {
	Key     string
	Timeout *time.Duration
	TTL     time.Duration
}

func (r LockRequest) GetTimeout() time.Duration {
	if r.Timeout == nil {
		return DefaultLockTimeout
	}
	return *r.Timeout
}

// SettlementLockKey is the per-customer key that serializes settlements.
func SettlementLockKey(customerID string) string {
	return "settlement:customer:" + customerID
}
