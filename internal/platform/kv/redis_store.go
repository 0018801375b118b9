package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// RedisStore is the production Store backend, grounded on the
// redis/go-redis/v9 usage pattern in the pack's whatomate worker/queue
// files (SetNX-style leases, sorted sets for delayed work).
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore dials Redis from a URL ("redis://host:port/db").
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.rdb.Ping(ctx).Err() == nil
}

func (s *RedisStore) IncrementDedup(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "dedup:"+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) ClaimBatchDrain(ctx context.Context, pairKey string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, "msg_lock:"+pairKey, 1, ttl).Result()
}

func (s *RedisStore) ReleaseBatchDrain(ctx context.Context, pairKey string) error {
	return s.rdb.Del(ctx, "msg_lock:"+pairKey).Err()
}

func (s *RedisStore) BufferAppend(ctx context.Context, pairKey string, payload string) error {
	return s.rdb.RPush(ctx, "msg_buffer:"+pairKey, payload).Err()
}

func (s *RedisStore) BufferDrain(ctx context.Context, pairKey string) ([]string, error) {
	key := "msg_buffer:" + pairKey
	// LMPOP-style drain via a small Lua script so the read+delete is atomic
	// across instances sharing the same Redis.
	script := redis.NewScript(`
		local vals = redis.call('LRANGE', KEYS[1], 0, -1)
		redis.call('DEL', KEYS[1])
		return vals
	`)
	res, err := script.Run(ctx, s.rdb, []string{key}).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) EnqueueTimer(ctx context.Context, setKey, member string, at time.Time) error {
	return s.rdb.ZAdd(ctx, setKey, redis.Z{Score: float64(at.Unix()), Member: member}).Err()
}

func (s *RedisStore) RemoveTimer(ctx context.Context, setKey, member string) error {
	return s.rdb.ZRem(ctx, setKey, member).Err()
}

func (s *RedisStore) DrainDueTimers(ctx context.Context, setKey string, now time.Time, limit int64) ([]string, error) {
	due, err := s.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(due))
	for _, member := range due {
		n, err := s.rdb.ZRem(ctx, setKey, member).Result()
		if err != nil {
			logx.With("kv").Warn().Err(err).Str("member", member).Msg("⚠️ failed to claim timer")
			continue
		}
		if n == 1 {
			claimed = append(claimed, member)
		}
		// n == 0 means a peer instance already claimed it first; skip.
	}
	return claimed, nil
}

func (s *RedisStore) AcquireSchedulerLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (s *RedisStore) AcquireConvLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (s *RedisStore) ReleaseConvLease(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
