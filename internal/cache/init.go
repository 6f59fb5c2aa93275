package cache

import (
	"github.com/flexprice/billingops/internal/config"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/redis"
)

// CacheType represents the type of cache to use
type CacheType string

const (
	// CacheTypeInMemory represents an in-memory cache
	CacheTypeInMemory CacheType = "inmemory"

	// CacheTypeRedis represents a Redis-backed cache
	CacheTypeRedis CacheType = "redis"
)

// Initialize picks the cache backend. A nil redis client always yields the in-memory cache.
func Initialize(cfg *config.Configuration, client *redis.Client, log *logger.Logger) Cache {
	log.Infow("initializing cache system", "type", cfg.Cache.Type)

	var c Cache

	switch CacheType(cfg.Cache.Type) {
	case CacheTypeRedis:
		if client == nil {
			log.Warnw("redis cache requested without a redis client, falling back to in-memory")
			c = GetInMemoryCache()
			break
		}
		c = NewRedisCache(client, log, cfg)
	case CacheTypeInMemory:
		fallthrough
	default:
		c = GetInMemoryCache()
	}

	log.Infow("cache system initialized", "type", cfg.Cache.Type)
	return c
}
