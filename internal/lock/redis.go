package lock

import (
	"context"
	"time"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/types"
	"github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultRedisLockTTL = 2 * time.Minute
	redisLockPoll       = 50 * time.Millisecond
)

// RedisLocker holds keys with SET NX PX and releases them only with the owning token.
type RedisLocker struct {
	client redis.UniversalClient
	script *redis.Script
	log    *logger.Logger
}

func NewRedisLocker(client redis.UniversalClient, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		log:    log,
	}
}

func (l *RedisLocker) tryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to acquire settlement lock").
			Mark(ierr.ErrSystem)
	}
	return ok, nil
}

func (l *RedisLocker) WithLock(ctx context.Context, req types.LockRequest, fn func(ctx context.Context) error) error {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	token := types.GenerateUUID()

	deadline := time.Now().Add(req.GetTimeout())
	for {
		ok, err := l.tryLock(ctx, req.Key, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return lockHeld(req.Key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redisLockPoll):
		}
	}

	defer func() {
		// release must run even when the request context is already canceled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.script.Run(releaseCtx, l.client, []string{req.Key}, token).Err(); err != nil {
			l.log.Errorw("failed to release redis lock", "key", req.Key, "error", err)
		}
	}()

	return fn(ctx)
}
