package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrementDedup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.IncrementDedup(ctx, "msg-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "first sighting should create the key")

	created, err = s.IncrementDedup(ctx, "msg-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "second sighting of the same key is a duplicate")
}

func TestMemoryStore_IncrementDedup_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.IncrementDedup(ctx, "msg-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, created)

	time.Sleep(5 * time.Millisecond)

	created, err = s.IncrementDedup(ctx, "msg-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "expired dedup keys must not block re-processing")
}

func TestMemoryStore_ClaimBatchDrain_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acquired, err := s.ClaimBatchDrain(ctx, "agent1:user1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.ClaimBatchDrain(ctx, "agent1:user1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "a second drain claim on the same pair must fail while the lease is held")

	require.NoError(t, s.ReleaseBatchDrain(ctx, "agent1:user1"))

	acquired, err = s.ClaimBatchDrain(ctx, "agent1:user1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "releasing the drain must allow it to be reclaimed")
}

func TestMemoryStore_BufferAppendDrain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.BufferAppend(ctx, "pair1", "hello"))
	require.NoError(t, s.BufferAppend(ctx, "pair1", "world"))

	got, err := s.BufferDrain(ctx, "pair1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, got)

	got, err = s.BufferDrain(ctx, "pair1")
	require.NoError(t, err)
	assert.Empty(t, got, "a drained buffer must be empty until appended to again")
}

func TestMemoryStore_DrainDueTimers_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.EnqueueTimer(ctx, "followups", "c", now.Add(-1*time.Minute)))
	require.NoError(t, s.EnqueueTimer(ctx, "followups", "a", now.Add(-3*time.Minute)))
	require.NoError(t, s.EnqueueTimer(ctx, "followups", "b", now.Add(-2*time.Minute)))
	require.NoError(t, s.EnqueueTimer(ctx, "followups", "future", now.Add(time.Hour)))

	claimed, err := s.DrainDueTimers(ctx, "followups", now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, claimed, "due timers must drain in score (earliest-first) order")

	claimed, err = s.DrainDueTimers(ctx, "followups", now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a claimed timer must not be claimable again")
}

func TestMemoryStore_DrainDueTimers_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, s.EnqueueTimer(ctx, "set", m, now.Add(-time.Minute)))
	}

	claimed, err := s.DrainDueTimers(ctx, "set", now, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = s.DrainDueTimers(ctx, "set", now, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 1, "the remaining timer must still be claimable on a later drain")
}

func TestMemoryStore_RemoveTimer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.EnqueueTimer(ctx, "set", "a", now.Add(-time.Minute)))
	require.NoError(t, s.RemoveTimer(ctx, "set", "a"))

	claimed, err := s.DrainDueTimers(ctx, "set", now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a removed timer must not fire")
}

func TestMemoryStore_SchedulerLease_SingleLeader(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acquired, err := s.AcquireSchedulerLease(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.AcquireSchedulerLease(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "a second instance must not acquire the lease while it is held")
}

func TestMemoryStore_ConvLease_AcquireReleaseAcquire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acquired, err := s.AcquireConvLease(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.AcquireConvLease(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, s.ReleaseConvLease(ctx, "conv1"))

	acquired, err = s.AcquireConvLease(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryStore_Healthy(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.Healthy(context.Background()))
}
