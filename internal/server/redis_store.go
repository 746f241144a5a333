package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// loginWindowScript counts an attempt, starts the window on the first hit and
// returns the count with the remaining window in milliseconds.
var loginWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

type redisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisStore(cfg redisStoreConfig) (*redisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &redisStore{client: client, timeout: timeout}, nil
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	values, err := loginWindowScript.Run(ctx, s.client, []string{key}, windowMillis).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("count login attempt: %w", err)
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("count login attempt: unexpected reply length %d", len(values))
	}
	count, ttl := values[0], values[1]
	if count <= int64(limit) {
		return true, 0, nil
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, time.Duration(ttl) * time.Millisecond, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
