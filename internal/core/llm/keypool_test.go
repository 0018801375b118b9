package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPool_GetKey_OverrideBypassesPool(t *testing.T) {
	p := NewKeyPool("openai", nil)
	lease, ok := p.GetKey("override-key")
	require.True(t, ok)
	assert.True(t, lease.IsOverride)
	assert.Equal(t, "override-key", lease.Key)
}

func TestKeyPool_GetKey_RoundRobin(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2", "k3"})

	var seen []string
	for i := 0; i < 3; i++ {
		lease, ok := p.GetKey("")
		require.True(t, ok)
		seen = append(seen, lease.Key)
	}
	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, seen)

	lease, ok := p.GetKey("")
	require.True(t, ok)
	assert.Equal(t, seen[0], lease.Key, "round-robin must wrap back to the first key")
}

func TestKeyPool_GetKey_EmptyPoolFails(t *testing.T) {
	p := NewKeyPool("openai", nil)
	_, ok := p.GetKey("")
	assert.False(t, ok)
}

func TestKeyPool_GetKey_SkipsBlankKeys(t *testing.T) {
	p := NewKeyPool("openai", []string{"", "k1", ""})
	lease, ok := p.GetKey("")
	require.True(t, ok)
	assert.Equal(t, "k1", lease.Key)
}

func TestKeyPool_ReportAuthFailure_PermanentlyRemovesKey(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2"})
	p.ReportAuthFailure("k1", false)

	for i := 0; i < 5; i++ {
		lease, ok := p.GetKey("")
		require.True(t, ok)
		assert.Equal(t, "k2", lease.Key, "a dead key must never be returned again")
	}
}

func TestKeyPool_ReportAuthFailure_OverrideNeverMarksPool(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1"})
	p.ReportAuthFailure("k1", true)

	lease, ok := p.GetKey("")
	require.True(t, ok, "an override auth failure must not affect the pool's own keys")
	assert.Equal(t, "k1", lease.Key)
}

func TestKeyPool_ReportRateLimited_BacksOffKey(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1", "k2"})
	p.ReportRateLimited("k1", time.Minute, false)

	for i := 0; i < 3; i++ {
		lease, ok := p.GetKey("")
		require.True(t, ok)
		assert.Equal(t, "k2", lease.Key, "a rate-limited key must be skipped until its backoff elapses")
	}
}

func TestKeyPool_ReportRateLimited_AllKeysDownFailsClosed(t *testing.T) {
	p := NewKeyPool("openai", []string{"k1"})
	p.ReportRateLimited("k1", time.Hour, false)

	_, ok := p.GetKey("")
	assert.False(t, ok, "when every key is backed off, GetKey must report unavailable rather than returning a cooling-down key")
}

func TestRegistry_PoolReturnsNilForUnknownProvider(t *testing.T) {
	r := NewRegistry(map[string][]string{"openai": {"k1"}})
	assert.Nil(t, r.Pool("anthropic"))
	assert.NotNil(t, r.Pool("openai"))
}
