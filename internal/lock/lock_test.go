package lock

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flexprice/billingops/internal/config"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/postgres"
	"github.com/flexprice/billingops/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_SerializesSameKey(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(ctx, types.LockRequest{Key: "settlement:customer:cus_1"}, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLocker_TimeoutReturnsLockHeld(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(ctx, types.LockRequest{Key: "k"}, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := l.WithLock(ctx, types.LockRequest{Key: "k", Timeout: lo.ToPtr(20 * time.Millisecond)}, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, ierr.IsLockHeld(err))

	err = l.WithLock(ctx, types.LockRequest{Key: "k", Timeout: lo.ToPtr(time.Duration(0))}, func(ctx context.Context) error {
		return nil
	})
	assert.True(t, ierr.IsLockHeld(err))

	// other keys are independent
	assert.NoError(t, l.WithLock(ctx, types.LockRequest{Key: "other"}, func(ctx context.Context) error { return nil }))

	close(release)
}

func TestMemoryLocker_PropagatesError(t *testing.T) {
	l := NewMemoryLocker()
	boom := errors.New("boom")
	err := l.WithLock(context.Background(), types.LockRequest{Key: "k"}, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// released after an error
	assert.NoError(t, l.WithLock(context.Background(), types.LockRequest{Key: "k", Timeout: lo.ToPtr(time.Duration(0))}, func(ctx context.Context) error { return nil }))
}

func TestPostgresLocker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).WithArgs("settlement:customer:cus_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	l := NewPostgresLocker(postgres.NewClient(db, logger.NewNoopLogger()))
	called := false
	err = l.WithLock(context.Background(), types.LockRequest{Key: types.SettlementLockKey("cus_1")}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLocker(t *testing.T) {
	cfg := config.GetDefaultConfig()
	l, err := NewLocker(cfg, nil, nil, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, l)

	cfg.Locking.Provider = config.LockProviderRedis
	_, err = NewLocker(cfg, nil, nil, logger.NewNoopLogger())
	assert.Error(t, err)

	cfg.Locking.Provider = config.LockProviderPostgres
	_, err = NewLocker(cfg, nil, nil, logger.NewNoopLogger())
	assert.Error(t, err)
}
