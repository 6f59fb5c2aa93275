package lock

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/billingops/internal/types"
)

// MemoryLocker is a per-key mutex for single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *MemoryLocker) WithLock(ctx context.Context, req types.LockRequest, fn func(ctx context.Context) error) error {
	ch := l.slot(req.Key)

	timeout := req.GetTimeout()
	if timeout <= 0 {
		select {
		case ch <- struct{}{}:
		default:
			return lockHeld(req.Key)
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
		case <-timer.C:
			return lockHeld(req.Key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() { <-ch }()

	return fn(ctx)
}
