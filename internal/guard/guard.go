// Package guard is the per-request admission decision point. It
// consults the rule resolver and a counter backend, and degrades to a
// static fallback policy on resolver miss or backend failure.
package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/workhubhq/gatekeeper/internal/counter"
	"github.com/workhubhq/gatekeeper/internal/metrics"
	"github.com/workhubhq/gatekeeper/internal/rule"
)

// Resolver yields the dynamic rule governing a request, if any.
type Resolver interface {
	Resolve(ctx context.Context, path, method, callerRole string) (rule.Match, bool)
}

// Request is what the guard needs to know about an inbound request.
// CallerID is the authenticated user id when present, otherwise the
// client address.
type Request struct {
	Path       string
	Method     string
	CallerID   string
	CallerRole string
}

// Decision is the ephemeral per-request admission outcome.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    int64 // epoch seconds when the window resets
	RetryAfter int64 // seconds; 0 when allowed
	Source     string
}

// Decision sources.
const (
	SourceRule     = "rule"
	SourceFallback = "fallback"
)

// Guard orchestrates resolution and counting. The fallback store is
// local and distinct from the primary so a primary outage never
// disables admission control.
type Guard struct {
	resolver Resolver
	primary  counter.Store
	fallback counter.Store
	tiers    []Tier
	log      zerolog.Logger
}

// New builds a Guard. tiers == nil selects DefaultTiers.
func New(resolver Resolver, primary, fallback counter.Store, tiers []Tier, log zerolog.Logger) *Guard {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Guard{
		resolver: resolver,
		primary:  primary,
		fallback: fallback,
		tiers:    tiers,
		log:      log,
	}
}

// Check runs the admission state machine for one request: resolve,
// count, decide. A committed increment is never rolled back; the quota
// reflects attempted load.
func (g *Guard) Check(ctx context.Context, req Request) Decision {
	start := time.Now()
	defer func() {
		metrics.CheckDuration.Observe(time.Since(start).Seconds())
	}()

	m, ok := g.resolver.Resolve(ctx, req.Path, req.Method, req.CallerRole)
	if !ok {
		metrics.FallbackActivations.WithLabelValues("miss").Inc()
		return g.record(g.checkFallback(ctx, req))
	}

	window := time.Duration(m.WindowSeconds) * time.Second
	hit, err := g.primary.Increment(ctx, counterKey(req), window)
	if err != nil {
		// A transient backend outage must not take down admission, but
		// it must not silently lift the limit either: the conservative
		// static policy governs this request.
		metrics.CounterErrors.WithLabelValues("primary").Inc()
		metrics.FallbackActivations.WithLabelValues("counter_error").Inc()
		g.log.Warn().Err(err).Str("rule_id", m.RuleID).Msg("counter backend failed, using static fallback")
		return g.record(g.checkFallback(ctx, req))
	}

	limit := int64(m.MaxRequests)
	d := Decision{
		Limit:   limit,
		ResetAt: time.Now().Add(hit.ResetAfter).Unix(),
		Source:  SourceRule,
	}
	if hit.TotalHits <= limit {
		d.Allowed = true
		d.Remaining = limit - hit.TotalHits
	} else {
		d.RetryAfter = int64(m.WindowSeconds)
	}
	return g.record(d)
}

func (g *Guard) record(d Decision) Decision {
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
	}
	metrics.AdmissionDecisions.WithLabelValues(outcome, d.Source).Inc()
	return d
}

// counterKey builds the per-caller counting key.
func counterKey(req Request) string {
	return req.CallerID + ":" + req.Method + ":" + req.Path
}
