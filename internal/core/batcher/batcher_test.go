package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfity/wa-agent-core/internal/core/dispatcher"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
)

func TestAdd_ZeroDebounceFlushesImmediately(t *testing.T) {
	store := kv.NewMemoryStore()
	var mu sync.Mutex
	var flushed []dispatcher.NormalizedEvent
	b := New(store, func(ctx context.Context, agentID, userPhone string, events []dispatcher.NormalizedEvent) {
		mu.Lock()
		flushed = append(flushed, events...)
		mu.Unlock()
	})

	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m1", Text: "hi"}, 0, 10)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Equal(t, "m1", flushed[0].MessageID)
}

func TestAdd_DebouncesMultipleMessagesIntoOneFlush(t *testing.T) {
	store := kv.NewMemoryStore()
	var mu sync.Mutex
	var flushCount int
	var lastBatch []dispatcher.NormalizedEvent
	flushed := make(chan struct{}, 1)
	b := New(store, func(ctx context.Context, agentID, userPhone string, events []dispatcher.NormalizedEvent) {
		mu.Lock()
		flushCount++
		lastBatch = events
		mu.Unlock()
		flushed <- struct{}{}
	})

	debounce := 20 * time.Millisecond
	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m1"}, debounce, 10)
	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m2"}, debounce, 10)
	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m3"}, debounce, 10)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced flush")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, flushCount, "three rapid adds within the debounce window must collapse into one flush")
	assert.Len(t, lastBatch, 3)
}

func TestAdd_MaxBatchTriggersImmediateDrain(t *testing.T) {
	store := kv.NewMemoryStore()
	flushed := make(chan []dispatcher.NormalizedEvent, 1)
	b := New(store, func(ctx context.Context, agentID, userPhone string, events []dispatcher.NormalizedEvent) {
		flushed <- events
	})

	debounce := time.Hour // long enough that only the max-batch path can trigger a flush
	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m1"}, debounce, 2)
	b.Add(context.Background(), "agent1", "user1", dispatcher.NormalizedEvent{MessageID: "m2"}, debounce, 2)

	select {
	case events := <-flushed:
		assert.Len(t, events, 2)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for max-batch drain")
	}
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "agent1:15551234567", pairKey("agent1", "15551234567"))
}
