package durable

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/logging"
)

// RedisKV is a Redis-backed medium. Calls go through a circuit breaker so an
// unreachable server costs one fast failure instead of a timeout per call.
type RedisKV struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	ttl     time.Duration
}

// RedisConfig holds settings for the Redis medium.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// KeyTTL bounds how long Redis keeps a record even if nothing reads it.
	// The envelope expiry stays authoritative. 0 keeps keys until deleted.
	KeyTTL time.Duration
}

// ConnectRedis creates a client and pings it with exponential backoff,
// giving up after maxWait.
func ConnectRedis(ctx context.Context, cfg RedisConfig, maxWait time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxWait

	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		logging.Warn("Redis not reachable, retrying",
			zap.String("address", cfg.Address),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// NewRedisKV wraps client as a durable medium.
func NewRedisKV(client *redis.Client, keyTTL time.Duration) *RedisKV {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "durable-redis",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Durable cache breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &RedisKV{client: client, breaker: breaker, ttl: keyTTL}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.breaker.Execute(func() ([]byte, error) {
		return r.client.Get(ctx, key).Bytes()
	})
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, key, value, r.ttl).Err()
	})
	return err
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	return err
}
