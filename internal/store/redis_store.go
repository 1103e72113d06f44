package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"qbwc-sync/internal/logging"
	"qbwc-sync/internal/telemetry"
)

// BreakerSettings tunes the circuit breaker guarding Redis calls.
type BreakerSettings struct {
	Failures int
	Timeout  time.Duration
}

// RedisStore keeps each record as a Redis hash whose fields hold JSON values.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStore wraps client with a circuit breaker.
func NewRedisStore(client *redis.Client, bs BreakerSettings, logger *zap.Logger) *RedisStore {
	logger = logging.OrNop(logger)
	failures := bs.Failures
	if failures <= 0 {
		failures = 5
	}
	timeout := bs.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "entity-store",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// a caller giving up says nothing about Redis health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			telemetry.BreakerStateChange.WithLabelValues(to.String()).Inc()
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &RedisStore{client: client, prefix: "entity:", breaker: cb}
}

func (s *RedisStore) recordKey(collection, key string) string {
	return s.prefix + collection + ":" + key
}

// Get loads and decodes the hash stored for key.
func (s *RedisStore) Get(ctx context.Context, collection, key string) (map[string]any, bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.HGetAll(ctx, s.recordKey(collection, key)).Result()
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	raw := res.(map[string]string)
	if len(raw) == 0 {
		return nil, false, nil
	}
	out := make(map[string]any, len(raw))
	for field, encoded := range raw {
		var v any
		if err := json.Unmarshal([]byte(encoded), &v); err != nil {
			return nil, false, fmt.Errorf("decode %s/%s field %q: %w", collection, key, field, err)
		}
		out[field] = v
	}
	return out, true, nil
}

// Put replaces the whole record in one transaction.
func (s *RedisStore) Put(ctx context.Context, collection, key string, record map[string]any) error {
	values, err := encodeFields(record)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	_, err = s.execute(func() (any, error) {
		pipe := s.client.TxPipeline()
		rk := s.recordKey(collection, key)
		pipe.Del(ctx, rk)
		if len(values) > 0 {
			pipe.HSet(ctx, rk, values)
		}
		return pipe.Exec(ctx)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Update sets only the supplied fields.
func (s *RedisStore) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	values, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	_, err = s.execute(func() (any, error) {
		return s.client.HSet(ctx, s.recordKey(collection, key), values).Result()
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *RedisStore) execute(fn func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return res, err
}

func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}
