// Package scheduler implements the Distributed Scheduler (C7): a
// single-leader tick loop that drives the time-based engines (reminders,
// summaries, follow-ups) spec §4.7 lists, none of which can run correctly
// from more than one instance at a time. Grounded on the teacher's
// worker/ai_worker.go ticker-loop shape, generalized to a leased,
// multi-stage tick instead of one fixed job type.
package scheduler

import (
	"context"
	"time"

	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// tickInterval and leaseTTL match spec §4.7 ("30s tick, 180s lease").
const (
	tickInterval = 30 * time.Second
	leaseTTL     = 180 * time.Second
	leaseKey     = "scheduler:lock"
)

// ReminderProcessor is satisfied by the Reminder Engine (C8).
type ReminderProcessor interface {
	ProcessDue(ctx context.Context, now time.Time)
}

// SummaryProcessor is satisfied by the Summary Engine (C9).
type SummaryProcessor interface {
	DetectAndGenerate(ctx context.Context, now time.Time)
	RetryPending(ctx context.Context, now time.Time)
}

// FollowupProcessor is satisfied by the Follow-up Engine (C10).
type FollowupProcessor interface {
	Tick(ctx context.Context, now time.Time)
}

// Scheduler runs one tick per interval across every registered engine,
// gated by a named distributed lease so only one instance acts at a time.
type Scheduler struct {
	kv        kv.Store
	reminders ReminderProcessor
	summaries SummaryProcessor
	followups FollowupProcessor
}

func New(store kv.Store, reminders ReminderProcessor, summaries SummaryProcessor, followups FollowupProcessor) *Scheduler {
	return &Scheduler{kv: store, reminders: reminders, summaries: summaries, followups: followups}
}

// Run blocks, ticking every tickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick acquires the leader lease and runs every stage in order, containing
// each stage's errors so one engine's failure never kills the loop or
// blocks the rest (spec §7: "log and continue"). The lease is never
// explicitly released — its TTL rotates leadership if an instance dies
// mid-tick, which is simpler and safer than a release-then-reacquire race.
// If the kv store is unreachable, Healthy reports false and the tick
// proceeds unconditionally under the single-instance assumption (spec §5).
func (s *Scheduler) tick(ctx context.Context) {
	log := logx.With("scheduler")

	if s.kv != nil && s.kv.Healthy(ctx) {
		acquired, err := s.kv.AcquireSchedulerLease(ctx, leaseKey, leaseTTL)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ scheduler lease error, running best-effort")
		} else if !acquired {
			return
		}
	}

	now := time.Now().UTC()

	s.runStage("reminders.process_due", func() { s.reminders.ProcessDue(ctx, now) })
	s.runStage("summaries.detect", func() { s.summaries.DetectAndGenerate(ctx, now) })
	s.runStage("summaries.retry", func() { s.summaries.RetryPending(ctx, now) })
	s.runStage("followups.tick", func() { s.followups.Tick(ctx, now) })
}

func (s *Scheduler) runStage(name string, fn func()) {
	log := logx.With("scheduler")
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stage", name).Msg("❌ scheduler stage panicked, continuing")
		}
	}()
	fn()
}
