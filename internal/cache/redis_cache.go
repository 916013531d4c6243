package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const saleSequenceTTL = 48 * time.Hour

// RedisSaleSequence hands out per-company daily sale sequences with INCR.
type RedisSaleSequence struct {
	client *redis.Client
}

func NewRedisSaleSequence(addr string, password string, db int) *RedisSaleSequence {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleSequence{client: client}
}

func (c *RedisSaleSequence) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleSequence) Close() error {
	return c.client.Close()
}

func (c *RedisSaleSequence) Next(ctx context.Context, companyID string, day time.Time) (int64, error) {
	key := SaleSequenceKey(companyID, day)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, saleSequenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func SaleSequenceKey(companyID string, day time.Time) string {
	return fmt.Sprintf("salenum:%s:%s", companyID, day.UTC().Format("20060102"))
}
