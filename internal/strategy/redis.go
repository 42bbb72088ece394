package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

const redisKeyPrefix = "venture:strategy:"

// redisBackend keeps the index in Redis so multiple worker processes share
// one warm fast path. Values are JSON-encoded entries; the database rows
// stay authoritative, so a flushed Redis only costs warm-up time.
type redisBackend struct {
	client *redis.Client
}

func newRedisBackend(cfg config.CacheConfig) (*redisBackend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Printf("[StrategyCache] Using redis index at %s", opts.Addr)
	return &redisBackend{client: client}, nil
}

func (b *redisBackend) Get(ctx context.Context, key string) (*models.StrategyCacheEntry, bool) {
	data, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[StrategyCache] Redis get failed for %s: %v", key, err)
		}
		return nil, false
	}
	var entry models.StrategyCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[StrategyCache] Corrupt redis entry for %s: %v", key, err)
		b.client.Del(ctx, redisKeyPrefix+key)
		return nil, false
	}
	return &entry, true
}

func (b *redisBackend) Set(ctx context.Context, entry *models.StrategyCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+entry.Key.String(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) {
	if err := b.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		log.Printf("[StrategyCache] Redis delete failed for %s: %v", key, err)
	}
}

func (b *redisBackend) Entries(ctx context.Context) []*models.StrategyCacheEntry {
	var out []*models.StrategyCacheEntry
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var entry models.StrategyCacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, &entry)
	}
	if err := iter.Err(); err != nil {
		log.Printf("[StrategyCache] Redis scan failed: %v", err)
	}
	return out
}

func (b *redisBackend) Len(ctx context.Context) int {
	count := 0
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

func (b *redisBackend) Clear(ctx context.Context) {
	iter := b.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		b.client.Del(ctx, iter.Val())
	}
}
