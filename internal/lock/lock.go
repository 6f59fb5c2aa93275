package lock

import (
	"context"

	"github.com/flexprice/billingops/internal/config"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/postgres"
	"github.com/flexprice/billingops/internal/redis"
	"github.com/flexprice/billingops/internal/types"
)

// Locker serializes work on a key across settlement requests.
type Locker interface {
	// WithLock runs fn while holding req.Key. It returns an ErrLockHeld error
	// when the key cannot be acquired within req's timeout.
	WithLock(ctx context.Context, req types.LockRequest, fn func(ctx context.Context) error) error
}

// NewLocker builds the locker selected by locking.provider.
func NewLocker(cfg *config.Configuration, redisClient *redis.Client, pg *postgres.Client, log *logger.Logger) (Locker, error) {
	switch cfg.Locking.Provider {
	case config.LockProviderRedis:
		if redisClient == nil {
			return nil, ierr.NewError("redis locker requires a redis client").
				WithHint("Configure redis.host or use another locking provider").
				Mark(ierr.ErrValidation)
		}
		log.Infow("using redis settlement locker")
		return NewRedisLocker(redisClient.GetClient(), log), nil
	case config.LockProviderPostgres:
		if pg == nil {
			return nil, ierr.NewError("postgres locker requires a database").
				WithHint("Configure postgres.host or use another locking provider").
				Mark(ierr.ErrValidation)
		}
		log.Infow("using postgres advisory settlement locker")
		return NewPostgresLocker(pg), nil
	default:
		log.Infow("using in-process settlement locker")
		return NewMemoryLocker(), nil
	}
}

func lockHeld(key string) error {
	return ierr.NewError("lock already held").
		WithHintf("Another settlement is in progress for %s, retry shortly", key).
		WithReportableDetails(map[string]interface{}{
			"lock_key": key,
		}).
		Mark(ierr.ErrLockHeld)
}
