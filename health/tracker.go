// Package health tracks per-provider success/failure counters and derives
// the healthy flag the routing engine consults. Health is advisory: counters
// use atomics so concurrent attempts never block each other, and a slightly
// stale read is acceptable.
package health

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/madfam-org/janua-sub020/kvstore"
	"github.com/madfam-org/janua-sub020/models"
)

// ConsecutiveFailureThreshold is the number of sequential failures after
// which a provider is excluded from primary routing.
const ConsecutiveFailureThreshold = 3

type counters struct {
	success     atomic.Int64
	failure     atomic.Int64
	consecutive atomic.Int64
}

// Tracker holds one counter set per configured provider. The provider set is
// fixed at construction and lives for the process lifetime.
type Tracker struct {
	providers map[string]*counters
	order     []string
	store     kvstore.Store // optional mirror, never read back
}

// NewTracker creates counters for the given providers.
func NewTracker(providers []string) *Tracker {
	t := &Tracker{
		providers: make(map[string]*counters, len(providers)),
		order:     append([]string(nil), providers...),
	}
	for _, p := range providers {
		t.providers[p] = &counters{}
	}
	return t
}

// WithPersistence mirrors counter increments into the KV store for
// cross-process observability. Writes are best effort; decisions are always
// taken from the in-memory counters.
func (t *Tracker) WithPersistence(store kvstore.Store) *Tracker {
	t.store = store
	return t
}

// RecordSuccess increments the success counter and resets the consecutive
// failure streak.
func (t *Tracker) RecordSuccess(provider string) {
	c, ok := t.providers[provider]
	if !ok {
		return
	}
	c.success.Add(1)
	c.consecutive.Store(0)
	t.mirror(provider, "success")
}

// RecordFailure increments the failure counter and the consecutive streak.
func (t *Tracker) RecordFailure(provider string) {
	c, ok := t.providers[provider]
	if !ok {
		return
	}
	c.failure.Add(1)
	c.consecutive.Add(1)
	t.mirror(provider, "failure")
}

// Healthy reports whether the provider is below the consecutive-failure
// threshold. Unknown providers are never healthy.
func (t *Tracker) Healthy(provider string) bool {
	c, ok := t.providers[provider]
	if !ok {
		return false
	}
	return c.consecutive.Load() < ConsecutiveFailureThreshold
}

// SuccessRate returns successes over total samples, 1.0 with zero samples.
func (t *Tracker) SuccessRate(provider string) float64 {
	c, ok := t.providers[provider]
	if !ok {
		return 0
	}
	s := c.success.Load()
	f := c.failure.Load()
	if s+f == 0 {
		return 1.0
	}
	return float64(s) / float64(s+f)
}

// ProviderHealth returns a read-only snapshot for one provider.
func (t *Tracker) ProviderHealth(provider string) (models.ProviderHealth, error) {
	c, ok := t.providers[provider]
	if !ok {
		return models.ProviderHealth{}, fmt.Errorf("unknown provider %q", provider)
	}
	return t.snapshot(provider, c), nil
}

// Snapshot returns read-only snapshots for every provider, in configured
// order, for observability endpoints.
func (t *Tracker) Snapshot() []models.ProviderHealth {
	out := make([]models.ProviderHealth, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, t.snapshot(p, t.providers[p]))
	}
	return out
}

// Providers returns the configured provider ids in order.
func (t *Tracker) Providers() []string {
	return append([]string(nil), t.order...)
}

func (t *Tracker) snapshot(provider string, c *counters) models.ProviderHealth {
	s := c.success.Load()
	f := c.failure.Load()
	cf := c.consecutive.Load()
	rate := 1.0
	if s+f > 0 {
		rate = float64(s) / float64(s+f)
	}
	return models.ProviderHealth{
		Provider:            provider,
		SuccessCount:        s,
		FailureCount:        f,
		ConsecutiveFailures: cf,
		Healthy:             cf < ConsecutiveFailureThreshold,
		SuccessRate:         rate,
	}
}

func (t *Tracker) mirror(provider, outcome string) {
	if t.store == nil {
		return
	}
	_, _ = t.store.Incr(context.Background(), "health:"+provider+":"+outcome)
}
