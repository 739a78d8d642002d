package rule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/workhubhq/gatekeeper/internal/metrics"
)

// DefaultCacheTTL is how long a snapshot is served before a lazy reload.
const DefaultCacheTTL = 5 * time.Minute

// Compiled pairs a rule with its pre-compiled route matcher.
type Compiled struct {
	Rule    Rule
	Matcher Matcher
}

type snapshot struct {
	rules     []Compiled
	expiresAt time.Time
}

// Loader supplies the active rule set; implemented by Store.
type Loader interface {
	ListActive(ctx context.Context) ([]Rule, error)
}

// Cache keeps the active rule set warm without a database round trip on
// every request. The snapshot is replaced wholesale via an atomic
// pointer, never mutated in place, so readers take no lock. Concurrent
// callers observing an expired snapshot may each trigger a reload; the
// duplicate reads are cheap and tolerated.
type Cache struct {
	loader  Loader
	ttl     time.Duration
	snap    atomic.Pointer[snapshot]
	gen     atomic.Uint64 // bumped by Invalidate; guards in-flight reloads
	retries *rate.Limiter // paces reload attempts while the store is down
	log     zerolog.Logger
}

// NewCache builds a Cache over loader. ttl <= 0 selects DefaultCacheTTL.
func NewCache(loader Loader, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		retries: rate.NewLimiter(rate.Every(time.Second), 1),
		log:     log,
	}
}

// ActiveRules returns the current snapshot, reloading it from the store
// when absent or expired. A failed reload keeps serving the stale
// snapshot; only before the very first successful load does it return
// nil, which callers treat as "no dynamic rules".
func (c *Cache) ActiveRules(ctx context.Context) []Compiled {
	snap := c.snap.Load()
	if snap != nil && time.Now().Before(snap.expiresAt) {
		return snap.rules
	}

	// The snapshot is stale or absent. Pace reload attempts so a dead
	// rule store is not hit once per request. The pacer applies only
	// when a stale snapshot exists to serve: the nil case covers both
	// a cold start and a fresh invalidation, and throttling it would
	// let the pacer mask a mutation until its next token.
	if snap != nil && !c.retries.Allow() {
		return snap.rules
	}

	gen := c.gen.Load()
	rules, err := c.loader.ListActive(ctx)
	if err != nil {
		metrics.RuleCacheReloads.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Msg("rule snapshot reload failed")
		if snap != nil {
			return snap.rules
		}
		return nil
	}
	metrics.RuleCacheReloads.WithLabelValues("ok").Inc()

	compiled := make([]Compiled, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, Compiled{Rule: r, Matcher: NewMatcher(r.RoutePattern)})
	}
	next := &snapshot{rules: compiled, expiresAt: time.Now().Add(c.ttl)}
	// An invalidation that landed while the load was in flight means
	// these rows may predate the mutation. They are still good enough
	// for the caller that raced the mutation, but pinning them as the
	// snapshot would hold the stale set for a full TTL.
	if c.gen.Load() == gen {
		c.snap.Store(next)
		metrics.CachedRules.Set(float64(len(compiled)))
	}
	return next.rules
}

// Invalidate discards the current snapshot unconditionally. The next
// ActiveRules call reloads from the store, so staleness after a rule
// mutation is bounded by one reload, not by the TTL. The generation
// bump also voids any reload already in flight, whose rows may have
// been read before the mutation committed.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
	c.snap.Store(nil)
}
