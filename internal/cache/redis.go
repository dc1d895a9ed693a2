package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
)

const (
	redisGenerations = "cache:generations"
	redisEntryPrefix = "cache:entries:"
)

// Redis keeps generations in a Redis server so several proxies can share
// them. Generations live in a sorted set scored by creation time; each
// generation's entries live in one hash.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, logger: logging.OrNop(logger).Named("cache")}, nil
}

func entriesKey(gen string) string {
	return redisEntryPrefix + gen
}

// Keys implements Backend.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	names, err := r.client.ZRange(ctx, redisGenerations, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return names, nil
}

// Has implements Backend.
func (r *Redis) Has(ctx context.Context, gen string) (bool, error) {
	_, err := r.client.ZScore(ctx, redisGenerations, gen).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up generation %s: %w", gen, err)
	}
	return true, nil
}

// Open implements Backend.
func (r *Redis) Open(ctx context.Context, gen string) error {
	err := r.client.ZAddNX(ctx, redisGenerations, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: gen,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to open generation %s: %w", gen, err)
	}
	return nil
}

// Delete implements Backend.
func (r *Redis) Delete(ctx context.Context, gen string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, redisGenerations, gen)
		pipe.Del(ctx, entriesKey(gen))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", gen, err)
	}
	return removed.Val() > 0, nil
}

// Put implements Backend.
func (r *Redis) Put(ctx context.Context, gen, key string, e *Entry) error {
	ok, err := r.Has(ctx, gen)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGeneration, gen)
	}

	stored := *e
	if stored.StoredAt == 0 {
		stored.StoredAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := r.client.HSet(ctx, entriesKey(gen), key, data).Err(); err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", key, gen, err)
	}
	return nil
}

// Match implements Backend.
func (r *Redis) Match(ctx context.Context, gen, key string) (*Entry, bool, error) {
	data, err := r.client.HGet(ctx, entriesKey(gen), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from %s: %w", key, gen, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, true, nil
}

// MatchAny implements Backend.
func (r *Redis) MatchAny(ctx context.Context, key string) (*Entry, bool, error) {
	gens, err := r.Keys(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, gen := range gens {
		e, ok, err := r.Match(ctx, gen, key)
		if err != nil || ok {
			return e, ok, err
		}
	}
	return nil, false, nil
}

// Entries implements Backend.
func (r *Redis) Entries(ctx context.Context, gen string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, entriesKey(gen)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of %s: %w", gen, err)
	}
	return keys, nil
}

// Close implements Backend.
func (r *Redis) Close() error {
	return r.client.Close()
}
