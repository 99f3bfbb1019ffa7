package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kitchenops/backend/internal/domain"
)

const (
	stockKeyPrefix      = "kitchenops:stocks:"
	generationKeyPrefix = "kitchenops:stocks:gen:"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStockCache(client *redis.Client) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func stockKey(unitID string) string {
	return stockKeyPrefix + unitID
}

func generationKey(unitID string) string {
	return generationKeyPrefix + unitID
}

func (c *RedisStockCache) Get(ctx context.Context, unitID string) ([]domain.Stock, bool, error) {
	val, err := c.client.Get(ctx, stockKey(unitID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stocks []domain.Stock
	if err := json.Unmarshal(val, &stocks); err != nil {
		return nil, false, err
	}
	return stocks, true, nil
}

func (c *RedisStockCache) Generation(ctx context.Context, unitID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(unitID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set writes the listing only while the unit's generation still equals gen.
// The generation key is watched, so an Invalidate that lands between the
// check and the write aborts the transaction and the listing is dropped.
func (c *RedisStockCache) Set(ctx context.Context, unitID string, gen int64, stocks []domain.Stock, ttl time.Duration) error {
	payload, err := json.Marshal(stocks)
	if err != nil {
		return err
	}

	genKey := generationKey(unitID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stockKey(unitID), payload, ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisStockCache) Invalidate(ctx context.Context, unitIDs ...string) error {
	if len(unitIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range unitIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Del(ctx, stockKey(id))
		}
		return nil
	})
	return err
}
