package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store on Redis. Each collection is one JSON array
// value, so a Replace is a single atomic SET.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number (0-15, typically 0)
//
// Returns:
//   - *RedisStore or error if connection fails
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func collectionKey(kind, collection string) string {
	return fmt.Sprintf("dfc:%s:%s", kind, collection)
}

func (r *RedisStore) FetchDemand(ctx context.Context, collection string, f Filter) ([]DemandRecord, error) {
	data, err := r.client.Get(ctx, collectionKey("demand", collection)).Result()
	if err == redis.Nil {
		return nil, nil // empty collection
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var all []DemandRecord
	if err := json.Unmarshal([]byte(data), &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal demand collection: %w", err)
	}

	var out []DemandRecord
	for _, rec := range all {
		if f.Match(rec.Category, rec.Year) {
			out = append(out, rec)
		}
	}
	sortDemand(out)
	return out, nil
}

func (r *RedisStore) ReplaceDemand(ctx context.Context, collection string, records []DemandRecord) (int, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal demand collection: %w", err)
	}
	if err := r.client.Set(ctx, collectionKey("demand", collection), data, 0).Err(); err != nil {
		return 0, fmt.Errorf("redis SET failed: %w", err)
	}
	return len(records), nil
}

func (r *RedisStore) FetchForecasts(ctx context.Context, collection string, f Filter) ([]ForecastRecord, error) {
	data, err := r.client.Get(ctx, collectionKey("forecast", collection)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var all []ForecastRecord
	if err := json.Unmarshal([]byte(data), &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast collection: %w", err)
	}

	var out []ForecastRecord
	for _, rec := range all {
		if f.Match(rec.Category, rec.Year) {
			out = append(out, rec)
		}
	}
	sortForecasts(out)
	return out, nil
}

func (r *RedisStore) ReplaceForecasts(ctx context.Context, collection string, records []ForecastRecord) (int, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal forecast collection: %w", err)
	}
	if err := r.client.Set(ctx, collectionKey("forecast", collection), data, 0).Err(); err != nil {
		return 0, fmt.Errorf("redis SET failed: %w", err)
	}
	return len(records), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// AcquireRunLock takes the single-writer run lock via SETNX. Returns false if
// another run holds it. The lock expires after ttl so a crashed run cannot
// wedge the pipeline.
func (r *RedisStore) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, "dfc:runlock", owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock drops the run lock if this owner still holds it.
func (r *RedisStore) ReleaseRunLock(ctx context.Context, owner string) error {
	val, err := r.client.Get(ctx, "dfc:runlock").Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return fmt.Errorf("redis GET failed: %w", err)
	}
	if val != owner {
		return nil // lock stolen after expiry; do not delete someone else's
	}
	return r.client.Del(ctx, "dfc:runlock").Err()
}
