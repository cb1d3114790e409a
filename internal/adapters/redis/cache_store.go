package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/rediskeys"
)

// maxWatchRetries bounds optimistic-lock retries when the generation index
// changes under DeleteGenerationsExcept.
const maxWatchRetries = 5

// ErrGenerationIndexContended is returned when the generation index kept
// changing during every DeleteGenerationsExcept attempt.
var ErrGenerationIndexContended = errors.New("generation index modified concurrently")

// CacheStoreAdapter stores each cache generation as one Redis hash and keeps
// the set of generation names in an index set, so several gateway pods share
// one shell cache.
type CacheStoreAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewCacheStoreAdapter creates a Redis backed domain.CacheStore.
func NewCacheStoreAdapter(redisClient *redis.Client, logger domain.Logger) *CacheStoreAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewCacheStoreAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewCacheStoreAdapter")
	}
	return &CacheStoreAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

func (a *CacheStoreAdapter) Put(ctx context.Context, generation string, entry domain.CachedEntry) error {
	return a.PutAll(ctx, generation, []domain.CachedEntry{entry})
}

func (a *CacheStoreAdapter) PutAll(ctx context.Context, generation string, entries []domain.CachedEntry) error {
	key := rediskeys.GenerationEntriesKey(generation)

	values := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry %q: %w", e.Key, err)
		}
		values = append(values, rediskeys.EntryField(e.Key), raw)
	}

	a.logger.Debug(ctx, "Storing cache entries", "key", key, "entries", len(entries))
	_, err := a.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		pipe.SAdd(ctx, rediskeys.GenerationIndexKey(), generation)
		return nil
	})
	if err != nil {
		a.logger.Error(ctx, "Failed to store cache entries", "key", key, "error", err.Error())
		return fmt.Errorf("redis MULTI HSET/SADD for generation '%s' failed: %w", generation, err)
	}
	return nil
}

func (a *CacheStoreAdapter) Match(ctx context.Context, generation string, key string) (*domain.CachedEntry, error) {
	raw, err := a.redisClient.HGet(ctx, rediskeys.GenerationEntriesKey(generation), rediskeys.EntryField(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis HGET for generation '%s' failed: %w", generation, err)
	}

	var entry domain.CachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry %q: %w", key, err)
	}
	return &entry, nil
}

func (a *CacheStoreAdapter) Generations(ctx context.Context) ([]string, error) {
	names, err := a.redisClient.SMembers(ctx, rediskeys.GenerationIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS for generation index failed: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteGenerationsExcept removes every generation but keep in a single
// MULTI/EXEC guarded by WATCH on the index, retrying if the index changes.
func (a *CacheStoreAdapter) DeleteGenerationsExcept(ctx context.Context, keep string) ([]string, error) {
	indexKey := rediskeys.GenerationIndexKey()

	for attempt := 1; attempt <= maxWatchRetries; attempt++ {
		var deleted []string

		err := a.redisClient.Watch(ctx, func(tx *redis.Tx) error {
			names, err := tx.SMembers(ctx, indexKey).Result()
			if err != nil {
				return err
			}
			deleted = deleted[:0]
			for _, name := range names {
				if name != keep {
					deleted = append(deleted, name)
				}
			}
			if len(deleted) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				keys := make([]string, 0, len(deleted))
				members := make([]any, 0, len(deleted))
				for _, name := range deleted {
					keys = append(keys, rediskeys.GenerationEntriesKey(name))
					members = append(members, name)
				}
				pipe.Del(ctx, keys...)
				pipe.SRem(ctx, indexKey, members...)
				return nil
			})
			return err
		}, indexKey)

		if errors.Is(err, redis.TxFailedErr) {
			a.logger.Warn(ctx, "Generation index changed during cleanup, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			a.logger.Error(ctx, "Failed to delete stale generations", "keep", keep, "error", err.Error())
			return nil, fmt.Errorf("redis cleanup of generations except '%s' failed: %w", keep, err)
		}
		sort.Strings(deleted)
		return deleted, nil
	}

	return nil, ErrGenerationIndexContended
}
