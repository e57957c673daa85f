// Package cache keeps recently registered timestamps in Redis so lookups can
// skip the database. Cached values are advisory: they may lag the store by up
// to the TTL and are never used to decide a registration.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/store"
)

const keyPrefix = "evreg:"

// rememberScript stores ARGV[1] (unix micros) unless the key already holds a
// later or equal value, so out-of-order writes never move a key backwards.
var rememberScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Reader is a read-through cache in front of a store.Reader.
type Reader struct {
	client  *redis.Client
	backend store.Reader
	ttl     time.Duration
	logger  *slog.Logger
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps backend. A non-positive ttl defaults to ten minutes.
func New(client *redis.Client, backend store.Reader, ttl time.Duration, logger *slog.Logger) *Reader {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, backend: backend, ttl: ttl, logger: logger}
}

func openCacheKey(k models.OpenKey) string   { return keyPrefix + "open:" + k.String() }
func clickCacheKey(k models.ClickKey) string { return keyPrefix + "click:" + k.String() }

// LastOpen serves from Redis when possible, else from the backend.
func (r *Reader) LastOpen(ctx context.Context, key models.OpenKey) (time.Time, bool, error) {
	ck := openCacheKey(key)
	if ts, ok := r.get(ctx, ck); ok {
		return ts, true, nil
	}
	ts, ok, err := r.backend.LastOpen(ctx, key)
	if err == nil && ok {
		r.fill(ctx, ck, ts)
	}
	return ts, ok, err
}

// LastClick serves from Redis when possible, else from the backend.
func (r *Reader) LastClick(ctx context.Context, key models.ClickKey) (time.Time, bool, error) {
	ck := clickCacheKey(key)
	if ts, ok := r.get(ctx, ck); ok {
		return ts, true, nil
	}
	ts, ok, err := r.backend.LastClick(ctx, key)
	if err == nil && ok {
		r.fill(ctx, ck, ts)
	}
	return ts, ok, err
}

// RememberOpen stores the timestamp a registration just produced.
func (r *Reader) RememberOpen(ctx context.Context, key models.OpenKey, ts time.Time) {
	r.remember(ctx, openCacheKey(key), ts)
}

// RememberClick stores the timestamp a registration just produced.
func (r *Reader) RememberClick(ctx context.Context, key models.ClickKey, ts time.Time) {
	r.remember(ctx, clickCacheKey(key), ts)
}

func (r *Reader) get(ctx context.Context, key string) (time.Time, bool) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false
	}
	if err != nil {
		r.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		return time.Time{}, false
	}
	micros, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.WarnContext(ctx, "cache holds unparsable timestamp", "key", key, "value", v)
		return time.Time{}, false
	}
	return time.UnixMicro(micros).UTC(), true
}

// fill caches a value read from the backend. It never replaces a value a
// registration wrote while the backend read was in flight.
func (r *Reader) fill(ctx context.Context, key string, ts time.Time) {
	if err := r.client.SetNX(ctx, key, strconv.FormatInt(ts.UnixMicro(), 10), r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "cache fill failed", "key", key, "error", err)
	}
}

// remember keeps the latest of the cached and the given timestamp.
func (r *Reader) remember(ctx context.Context, key string, ts time.Time) {
	err := rememberScript.Run(ctx, r.client, []string{key}, ts.UnixMicro(), r.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}
