package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Acquire succeeds when the key is free or already held by the same owner,
// refreshing the TTL in both cases.
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if current then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every worker connected to the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedis connects to the Redis at url (redis://[:password@]host:port/db).
func NewRedis(ctx context.Context, logger *slog.Logger, url string) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisWithClient(client, logger), nil
}

func NewRedisWithClient(client redis.UniversalClient, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: "replyflow:lock:",
		logger: logger.With("module", "redis_lock"),
	}
}

// Client exposes the underlying connection for stores sharing it.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	acquired, err := acquireScript.Run(ctx, r.client, []string{r.prefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return acquired == 1, nil
}

func (r *Redis) Release(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	return nil
}

func (r *Redis) Holder(ctx context.Context, key string) (string, error) {
	owner, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}

		return "", fmt.Errorf("failed to read lock %s: %w", key, err)
	}

	return owner, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
