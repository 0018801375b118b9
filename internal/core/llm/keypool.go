package llm

import (
	"math/rand"
	"sync"
	"time"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// keyState tracks one pool key's availability, mirroring the teacher's
// circuit_breaker.go mutex-guarded counters but specialized to spec §4.4's
// rules: dead is permanent (process lifetime), availableAt is a timed
// cooldown after a 429.
type keyState struct {
	key         string
	dead        bool
	availableAt time.Time
}

// KeyPool implements the per-provider key manager described in spec §4.4:
// round-robin among available keys, 429 backoff with jitter, permanent
// dead-marking on auth failure, and an agent-level override path that is
// never marked dead or rate-limited. The pool only records key state; the
// providers do not retry a failed request, so a rate-limited or dead key
// is avoided from the next GetKey call on.
type KeyPool struct {
	mu       sync.Mutex
	provider string
	keys     []*keyState
	next     int
}

// NewKeyPool builds a pool from the given keys (already resolved from the
// multi-key env var with singular fallback, per spec §4.4).
func NewKeyPool(provider string, keys []string) *KeyPool {
	states := make([]*keyState, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		states = append(states, &keyState{key: k})
	}
	return &KeyPool{provider: provider, keys: states}
}

// Lease is a handle returned by GetKey: the chosen key, and whether it is
// an agent-level override (which changes retry/backoff policy downstream).
type Lease struct {
	Key        string
	IsOverride bool
}

// GetKey returns the agent-level override if present, otherwise the next
// available pool key in round-robin order among keys with now >= availableAt
// and not dead.
func (p *KeyPool) GetKey(agentOverride string) (Lease, bool) {
	if agentOverride != "" {
		return Lease{Key: agentOverride, IsOverride: true}, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return Lease{}, false
	}

	now := time.Now()
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		ks := p.keys[idx]
		if ks.dead {
			continue
		}
		if now.Before(ks.availableAt) {
			continue
		}
		p.next = (idx + 1) % len(p.keys)
		return Lease{Key: ks.key}, true
	}
	return Lease{}, false
}

// ReportRateLimited handles a 429 from the given key: pool keys are backed
// off for retryAfter + jitter in [0,10s]; override keys are never marked and
// are only logged.
func (p *KeyPool) ReportRateLimited(key string, retryAfter time.Duration, isOverride bool) {
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	jitter := time.Duration(rand.Intn(11)) * time.Second
	backoff := retryAfter + jitter

	log := logx.With("llm.keypool")
	if isOverride {
		log.Warn().Str("provider", p.provider).Dur("backoff", backoff).Msg("⏳ agent override key rate-limited (override keys are not marked)")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ks := range p.keys {
		if ks.key == key {
			ks.availableAt = time.Now().Add(backoff)
			log.Warn().Str("provider", p.provider).Dur("backoff", backoff).Msg("⏳ pool key rate-limited, rotating")
			return
		}
	}
}

// ReportAuthFailure marks a pool key dead for the process lifetime; an
// override key is never marked and is only logged.
func (p *KeyPool) ReportAuthFailure(key string, isOverride bool) {
	log := logx.With("llm.keypool")
	if isOverride {
		log.Error().Str("provider", p.provider).Msg("❌ agent override key auth failure (override keys are not marked)")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ks := range p.keys {
		if ks.key == key {
			ks.dead = true
			log.Error().Str("provider", p.provider).Msg("❌ pool key marked dead (auth failure)")
			return
		}
	}
}

// Registry holds one KeyPool per provider name, constructed once at
// startup (spec §9: "global process-wide singletons... long-lived service
// values constructed once at startup; no hidden module-level mutation").
type Registry struct {
	pools map[string]*KeyPool
}

// NewRegistry builds a Registry from provider name -> key list.
func NewRegistry(keysByProvider map[string][]string) *Registry {
	pools := make(map[string]*KeyPool, len(keysByProvider))
	for name, keys := range keysByProvider {
		pools[name] = NewKeyPool(name, keys)
	}
	return &Registry{pools: pools}
}

// Pool returns the KeyPool for a provider name, or nil if none configured.
func (r *Registry) Pool(provider string) *KeyPool {
	return r.pools[provider]
}
