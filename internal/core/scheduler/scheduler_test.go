package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/platform/kv"
)

type countingReminders struct{ calls int }

func (c *countingReminders) ProcessDue(ctx context.Context, now time.Time) { c.calls++ }

type countingSummaries struct {
	detectCalls, retryCalls int
}

func (c *countingSummaries) DetectAndGenerate(ctx context.Context, now time.Time) { c.detectCalls++ }
func (c *countingSummaries) RetryPending(ctx context.Context, now time.Time)      { c.retryCalls++ }

type panickingFollowups struct{ calls int }

func (p *panickingFollowups) Tick(ctx context.Context, now time.Time) {
	p.calls++
	panic("boom")
}

type panickingReminders struct{ calls int }

func (p *panickingReminders) ProcessDue(ctx context.Context, now time.Time) {
	p.calls++
	panic("boom")
}

func TestTick_RunsAllStagesWhenLeaseAcquired(t *testing.T) {
	store := kv.NewMemoryStore()
	reminders := &countingReminders{}
	summaries := &countingSummaries{}
	followups := &panickingFollowups{}
	s := New(store, reminders, summaries, followups)

	s.tick(context.Background())

	assert.Equal(t, 1, reminders.calls)
	assert.Equal(t, 1, summaries.detectCalls)
	assert.Equal(t, 1, summaries.retryCalls)
	assert.Equal(t, 1, followups.calls, "a panicking stage must still run, and must not block the others")
}

func TestTick_SecondInstanceSkipsWhileLeaseHeld(t *testing.T) {
	store := kv.NewMemoryStore()
	reminders := &countingReminders{}
	summaries := &countingSummaries{}
	followups := &panickingFollowups{}
	s1 := New(store, reminders, summaries, followups)
	s2 := New(store, &countingReminders{}, &countingSummaries{}, &panickingFollowups{})

	s1.tick(context.Background())
	s2.tick(context.Background())

	assert.Equal(t, 1, reminders.calls, "the instance that lost the lease race must not run any stage")
}

func TestTick_PanicInEarlyStageDoesNotBlockLaterStages(t *testing.T) {
	store := kv.NewMemoryStore()
	summaries := &countingSummaries{}
	followups := &panickingFollowups{}
	s := New(store, &panickingReminders{}, summaries, followups)

	assert.NotPanics(t, func() { s.tick(context.Background()) })
	assert.Equal(t, 1, summaries.detectCalls, "a stage after the panicking one must still run")
	assert.Equal(t, 1, followups.calls, "the last stage must still run even though an earlier stage panicked")
}
