package lock

import (
	"context"

	"github.com/flexprice/billingops/internal/postgres"
	"github.com/flexprice/billingops/internal/types"
)

// PostgresLocker holds a transaction-scoped advisory lock for the duration of fn.
type PostgresLocker struct {
	client *postgres.Client
}

func NewPostgresLocker(client *postgres.Client) *PostgresLocker {
	return &PostgresLocker{client: client}
}

func (l *PostgresLocker) WithLock(ctx context.Context, req types.LockRequest, fn func(ctx context.Context) error) error {
	return l.client.WithTx(ctx, func(txCtx context.Context) error {
		if err := l.client.LockKey(txCtx, req); err != nil {
			return err
		}
		return fn(txCtx)
	})
}
