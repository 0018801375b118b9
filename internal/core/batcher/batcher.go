// Package batcher implements the Message Batcher (C2): collapses rapid
// consecutive inbound messages for one (agent, user) pair into a single
// flush, debounced and distributed-gated per spec §4.2. Grounded on the
// teacher's worker/ai_worker.go goroutine-per-job dispatch shape,
// generalized from a plain job queue to a debounce-timer-per-key buffer.
package batcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/genfity/wa-agent-core/internal/core/dispatcher"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// drainGateTTL is the set-if-absent expiry on the per-pair processing gate
// (spec §4.2: "30 s expiry").
const drainGateTTL = 30 * time.Second

// OnFlush runs once per drained batch, in arrival order.
type OnFlush func(ctx context.Context, agentID, userPhone string, events []dispatcher.NormalizedEvent)

// Batcher implements dispatcher.Sink.
type Batcher struct {
	store kv.Store
	flush OnFlush

	mu     sync.Mutex
	timers map[string]*time.Timer
	counts map[string]int
}

func New(store kv.Store, flush OnFlush) *Batcher {
	return &Batcher{
		store:  store,
		flush:  flush,
		timers: make(map[string]*time.Timer),
		counts: make(map[string]int),
	}
}

func pairKey(agentID, userPhone string) string {
	return agentID + ":" + userPhone
}

// Add appends one event to the pair's buffer and (re)starts its debounce
// timer, per the Add(agent_id, user_phone, pending_message, ...) contract
// in spec §4.2. A zero/negative debounce bypasses batching entirely.
func (b *Batcher) Add(ctx context.Context, agentID, userPhone string, event dispatcher.NormalizedEvent, debounce time.Duration, maxBatch int) {
	log := logx.With("batcher")
	key := pairKey(agentID, userPhone)

	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to marshal event for buffer")
		return
	}
	if err := b.store.BufferAppend(ctx, key, string(raw)); err != nil {
		log.Error().Err(err).Msg("❌ failed to append to buffer")
		return
	}

	if debounce <= 0 {
		b.drain(ctx, agentID, userPhone)
		return
	}

	count := b.bufferLenHint(key) + 1
	if maxBatch > 0 && count >= maxBatch {
		b.cancelTimer(key)
		b.drain(ctx, agentID, userPhone)
		return
	}

	b.resetTimer(key, debounce, func() {
		b.drain(context.Background(), agentID, userPhone)
	})
}

// bufferLenHint is a best-effort count used only to decide whether the
// max-batch threshold was crossed on this Add; a miscount merely delays
// the flush to the next timer fire or Add, never drops a message.
func (b *Batcher) bufferLenHint(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[key]
}

func (b *Batcher) resetTimer(key string, d time.Duration, fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key]++
	if t, ok := b.timers[key]; ok {
		t.Stop()
	}
	b.timers[key] = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, key)
		delete(b.counts, key)
		b.mu.Unlock()
		fire()
	})
}

func (b *Batcher) cancelTimer(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[key]; ok {
		t.Stop()
		delete(b.timers, key)
	}
	delete(b.counts, key)
}

// drain attempts to claim the distributed drain gate and, on success,
// atomically drains the buffer and invokes flush exactly once (spec §4.2:
// "only the winner drains the list").
func (b *Batcher) drain(ctx context.Context, agentID, userPhone string) {
	log := logx.With("batcher")
	key := pairKey(agentID, userPhone)

	acquired, err := b.store.ClaimBatchDrain(ctx, key, drainGateTTL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ drain-gate claim error, proceeding best-effort")
	} else if !acquired {
		return
	}
	defer func() {
		_ = b.store.ReleaseBatchDrain(ctx, key)
	}()

	raw, err := b.store.BufferDrain(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to drain buffer")
		return
	}
	if len(raw) == 0 {
		return
	}

	events := make([]dispatcher.NormalizedEvent, 0, len(raw))
	for _, r := range raw {
		var ev dispatcher.NormalizedEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			log.Warn().Err(err).Msg("⚠️ dropped unparseable buffered event")
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return
	}

	b.flush(ctx, agentID, userPhone, events)
}
