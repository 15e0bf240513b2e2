package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rcn-ledger/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// Redis caches balance reads in a shared Redis so every replica sees the
// same invalidations.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis creates a Redis backed balance cache
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) key(address string) string {
	return fmt.Sprintf("rcn:balance:%s", domain.NormalizeAddress(address))
}

// Get returns the cached balance, if any
func (r *Redis) Get(ctx context.Context, address string) (*domain.Balance, bool, error) {
	data, err := r.client.Get(ctx, r.key(address)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var balance domain.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		return nil, false, err
	}
	return &balance, true, nil
}

// Set stores balance with the configured TTL
func (r *Redis) Set(ctx context.Context, balance *domain.Balance) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(balance.Address), data, r.ttl).Err()
}

// Invalidate removes the cached balance for address
func (r *Redis) Invalidate(ctx context.Context, address string) error {
	return r.client.Del(ctx, r.key(address)).Err()
}
