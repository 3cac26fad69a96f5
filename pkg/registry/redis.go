package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection parameters for the Redis metadata cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RedisRegistry is a read-through Redis cache over a fallback Fetcher. On a
// cache miss it consults the fallback and writes the result back in the
// background so the lookup path is never blocked on a cache write.
type RedisRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	fallback Fetcher
	logger   zerolog.Logger
}

// NewRedisRegistry connects to Redis and verifies connectivity with a ping
// before returning. fallback may be nil, in which case a cache miss is a
// lookup failure.
func NewRedisRegistry(ctx context.Context, cfg *RedisConfig, fallback Fetcher, logger zerolog.Logger) (*RedisRegistry, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Connected to Redis source registry cache.")

	return &RedisRegistry{
		client:   rdb,
		ttl:      cfg.CacheTTL,
		fallback: fallback,
		logger:   logger.With().Str("component", "RedisRegistry").Logger(),
	}, nil
}

// Fetch implements the Fetcher interface.
func (r *RedisRegistry) Fetch(ctx context.Context, sourceID string) (SourceInfo, error) {
	cached, err := r.client.Get(ctx, cacheKey(sourceID)).Result()
	if err == nil {
		var info SourceInfo
		if jsonErr := json.Unmarshal([]byte(cached), &info); jsonErr == nil {
			return info, nil
		}
		// Unreadable cache entries fall through to the source of truth.
		r.logger.Warn().Str("source_id", sourceID).Msg("Discarding unreadable cached registry entry.")
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Error().Err(err).Str("source_id", sourceID).Msg("Redis lookup failed.")
		return SourceInfo{}, err
	}

	if r.fallback == nil {
		return SourceInfo{}, ErrNotFound
	}

	info, err := r.fallback.Fetch(ctx, sourceID)
	if err != nil {
		return SourceInfo{}, err
	}

	go r.writeBack(sourceID, info)
	return info, nil
}

func (r *RedisRegistry) writeBack(sourceID string, info SourceInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := json.Marshal(info)
	if err != nil {
		r.logger.Error().Err(err).Str("source_id", sourceID).Msg("Failed to marshal registry entry for caching.")
		return
	}
	if err := r.client.Set(ctx, cacheKey(sourceID), data, r.ttl).Err(); err != nil {
		r.logger.Error().Err(err).Str("source_id", sourceID).Msg("Failed to write registry entry back to Redis.")
	}
}

// Close closes the Redis connection and the fallback.
func (r *RedisRegistry) Close() error {
	var errs []error
	if err := r.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func cacheKey(sourceID string) string {
	return "source-registry:" + sourceID
}
