package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisPort stores counters in Redis hashes and increments them under
// WATCH/MULTI, so concurrent service instances share one ledger.
type RedisPort struct {
	client *redis.Client
	prefix string
}

// NewRedisPort creates a port on an existing client. Keys are namespaced by prefix.
func NewRedisPort(client *redis.Client, prefix string) *RedisPort {
	if prefix == "" {
		prefix = "promotion"
	}
	return &RedisPort{client: client, prefix: prefix}
}

func (r *RedisPort) key(promotionID string) string {
	return fmt.Sprintf("%s:%s:usage", r.prefix, promotionID)
}

// Register creates the counter if missing and sets its limit.
func (r *RedisPort) Register(ctx context.Context, promotionID string, count, limit int) error {
	key := r.key(promotionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "count", count)
		pipe.HSet(ctx, key, "limit", limit)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger/redis: register %s: %w", promotionID, err)
	}
	return nil
}

// Read returns the counter of a promotion.
func (r *RedisPort) Read(ctx context.Context, promotionID string) (Usage, error) {
	vals, err := r.client.HMGet(ctx, r.key(promotionID), "count", "limit").Result()
	if err != nil {
		return Usage{}, fmt.Errorf("ledger/redis: read %s: %w", promotionID, err)
	}
	if vals[0] == nil {
		return Usage{}, ErrUnknownPromotion
	}
	count, err := toInt(vals[0])
	if err != nil {
		return Usage{}, fmt.Errorf("ledger/redis: read %s count: %w", promotionID, err)
	}
	limit, err := toInt(vals[1])
	if err != nil {
		return Usage{}, fmt.Errorf("ledger/redis: read %s limit: %w", promotionID, err)
	}
	return Usage{Count: count, Limit: limit}, nil
}

// CompareAndIncrement increments the counter if it still equals expectedCount.
// A concurrent write to the key between WATCH and EXEC reports false.
func (r *RedisPort) CompareAndIncrement(ctx context.Context, promotionID string, expectedCount int) (bool, error) {
	key := r.key(promotionID)
	incremented := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		count, err := tx.HGet(ctx, key, "count").Int()
		if errors.Is(err, redis.Nil) {
			return ErrUnknownPromotion
		}
		if err != nil {
			return err
		}
		if count != expectedCount {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "count", 1)
			return nil
		})
		if err != nil {
			return err
		}
		incremented = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if errors.Is(err, ErrUnknownPromotion) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("ledger/redis: increment %s: %w", promotionID, err)
	}
	return incremented, nil
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
