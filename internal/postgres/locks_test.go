package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClient(db, logger.NewNoopLogger()), mock
}

func TestLockKey_OutsideTransaction(t *testing.T) {
	c, _ := newMockClient(t)
	err := c.LockKey(context.Background(), types.LockRequest{Key: "k"})
	require.Error(t, err)
}

func TestLockKey_WithTimeout(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = 2000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("settlement:customer:cus_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := c.WithTx(context.Background(), func(ctx context.Context) error {
		return c.LockKey(ctx, types.LockRequest{
			Key:     types.SettlementLockKey("cus_1"),
			Timeout: lo.ToPtr(2 * time.Second),
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKey_TimeoutMapsToLockHeld(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := c.WithTx(context.Background(), func(ctx context.Context) error {
		return c.LockKey(ctx, types.LockRequest{Key: "k", Timeout: lo.ToPtr(time.Second)})
	})
	require.Error(t, err)
	assert.True(t, ierr.IsLockHeld(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKey_FailFast(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_xact_lock(hashtext($1))")).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectRollback()

	err := c.WithTx(context.Background(), func(ctx context.Context) error {
		return c.LockKey(ctx, types.LockRequest{Key: "k", Timeout: lo.ToPtr(time.Duration(0))})
	})
	require.Error(t, err)
	assert.True(t, ierr.IsLockHeld(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
