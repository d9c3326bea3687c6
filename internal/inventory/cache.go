package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	alertCacheKey      = "inventory:low_stock_alerts:unresolved"
	alertGenerationKey = "inventory:low_stock_alerts:generation"
)

// AlertCache keeps the unresolved alert list in Redis.
type AlertCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewAlertCache instantiates the cache helper.
func NewAlertCache(client *redis.Client, ttl time.Duration) *AlertCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AlertCache{client: client, ttl: ttl}
}

// Load returns the cached list or populates it using loader. Concurrent misses share one load.
func (c *AlertCache) Load(ctx context.Context, loader func(context.Context) ([]LowStockAlert, error)) ([]LowStockAlert, error) {
	if loader == nil {
		return nil, errors.New("alert cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, alertCacheKey).Bytes()
	if err == nil {
		var alerts []LowStockAlert
		if err := json.Unmarshal(payload, &alerts); err == nil {
			return alerts, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	ch := c.group.DoChan(alertCacheKey, func() (any, error) {
		gen, err := c.generation(ctx)
		if err != nil {
			return nil, err
		}
		alerts, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if alerts == nil {
			alerts = []LowStockAlert{}
		}
		raw, err := json.Marshal(alerts)
		if err != nil {
			return nil, err
		}
		if err := c.store(ctx, gen, raw); err != nil {
			return nil, err
		}
		return alerts, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]LowStockAlert), nil
	}
}

// Invalidate drops the cached list and bumps the generation so loads that
// started earlier do not write their result back.
func (c *AlertCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, alertGenerationKey)
		pipe.Del(ctx, alertCacheKey)
		return nil
	})
	return err
}

func (c *AlertCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, alertGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// store writes raw only while the generation still equals gen.
func (c *AlertCache) store(ctx context.Context, gen int64, raw []byte) error {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, alertGenerationKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, alertCacheKey, raw, c.ttl)
			return nil
		})
		return err
	}, alertGenerationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}
