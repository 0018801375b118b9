// Package kv is the narrow shared-state interface spec.md §9 calls for:
// IncrementDedup, ClaimBatchDrain, EnqueueTimer, DrainDueTimers,
// AcquireSchedulerLease, AcquireConvLease. Any store implementing Store
// suffices; Store is backed by Redis in production and degrades to an
// in-process map when Redis is unreachable (spec §5, "must tolerate
// unavailability degrading to single-instance mode without data loss").
package kv

import (
	"context"
	"time"
)

// Store is the full set of distributed primitives the core depends on.
type Store interface {
	// IncrementDedup atomically inserts a dedup key with a TTL. It returns
	// true if this call created the key (first sighting), false if the key
	// already existed (duplicate).
	IncrementDedup(ctx context.Context, key string, ttl time.Duration) (created bool, err error)

	// ClaimBatchDrain attempts to acquire the per-(agent,user) drain gate.
	// Returns true if this instance now owns the drain.
	ClaimBatchDrain(ctx context.Context, pairKey string, ttl time.Duration) (acquired bool, err error)
	ReleaseBatchDrain(ctx context.Context, pairKey string) error

	// BufferAppend/BufferDrain implement the shared per-pair message list.
	BufferAppend(ctx context.Context, pairKey string, payload string) error
	BufferDrain(ctx context.Context, pairKey string) ([]string, error)

	// EnqueueTimer adds/updates a member in a sorted set scored by unix
	// seconds (follow-up timers, spec §4.10).
	EnqueueTimer(ctx context.Context, setKey, member string, at time.Time) error
	RemoveTimer(ctx context.Context, setKey, member string) error
	// DrainDueTimers atomically claims (zrem) every member scored <= now and
	// returns only the members this call actually claimed.
	DrainDueTimers(ctx context.Context, setKey string, now time.Time, limit int64) ([]string, error)

	// AcquireSchedulerLease is the single named set-if-absent lock gating
	// the distributed scheduler (spec §4.7).
	AcquireSchedulerLease(ctx context.Context, key string, ttl time.Duration) (acquired bool, err error)

	// AcquireConvLease is the per-conversation mutex guarding context-summary
	// generation (spec §4.6).
	AcquireConvLease(ctx context.Context, key string, ttl time.Duration) (acquired bool, err error)
	ReleaseConvLease(ctx context.Context, key string) error

	// Healthy reports whether the backing store is currently reachable, so
	// callers (notably the scheduler) can fall back to single-instance
	// behaviour per spec §5/§4.7.
	Healthy(ctx context.Context) bool
}
