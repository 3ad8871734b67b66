package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// Cache stores normalized queries as JSON with a per-entry TTL.
type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{client: client}, nil
}

func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Get(ctx context.Context, key string) (domain.NormalizedQuery, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NormalizedQuery{}, false, nil
	}
	if err != nil {
		return domain.NormalizedQuery{}, false, fmt.Errorf("redis get: %w", err)
	}
	var q domain.NormalizedQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.NormalizedQuery{}, false, fmt.Errorf("decode cached query: %w", err)
	}
	return q, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, q domain.NormalizedQuery, ttl time.Duration) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode cached query: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
