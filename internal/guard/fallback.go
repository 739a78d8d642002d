package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/workhubhq/gatekeeper/internal/metrics"
)

// Tier is one band of the static fallback policy.
type Tier struct {
	Name        string
	MaxRequests int64
	Window      time.Duration
}

// DefaultTiers is the process-wide default policy applied when no
// dynamic rule governs a request.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "short", MaxRequests: 3, Window: time.Second},
		{Name: "medium", MaxRequests: 20, Window: 10 * time.Second},
		{Name: "long", MaxRequests: 100, Window: time.Minute},
	}
}

// ParseTier parses a "max:windowSeconds" config string into a Tier.
func ParseTier(name, s string) (Tier, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Tier{}, fmt.Errorf("tier %s: expected max:windowSeconds, got %q", name, s)
	}
	max, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || max < 1 {
		return Tier{}, fmt.Errorf("tier %s: invalid max in %q", name, s)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || secs < 1 {
		return Tier{}, fmt.Errorf("tier %s: invalid windowSeconds in %q", name, s)
	}
	return Tier{Name: name, MaxRequests: max, Window: time.Duration(secs) * time.Second}, nil
}

// checkFallback applies every static tier with the same atomic-counter
// discipline as the dynamic path. The first exceeded tier rejects with
// its own retry delay; when all pass, headers reflect the tier with the
// fewest remaining requests.
func (g *Guard) checkFallback(ctx context.Context, req Request) Decision {
	base := counterKey(req)
	best := Decision{Allowed: true, Remaining: -1, Source: SourceFallback}

	for _, tier := range g.tiers {
		hit, err := g.fallback.Increment(ctx, base+":"+tier.Name, tier.Window)
		if err != nil {
			// The fallback store is local; if even it fails the request
			// still gets a well-formed response rather than a 500.
			metrics.CounterErrors.WithLabelValues("fallback").Inc()
			g.log.Error().Err(err).Str("tier", tier.Name).Msg("fallback counter failed")
			continue
		}
		if hit.TotalHits > tier.MaxRequests {
			return Decision{
				Allowed:    false,
				Limit:      tier.MaxRequests,
				Remaining:  0,
				ResetAt:    time.Now().Add(hit.ResetAfter).Unix(),
				RetryAfter: int64(tier.Window / time.Second),
				Source:     SourceFallback,
			}
		}
		remaining := tier.MaxRequests - hit.TotalHits
		if best.Remaining < 0 || remaining < best.Remaining {
			best.Limit = tier.MaxRequests
			best.Remaining = remaining
			best.ResetAt = time.Now().Add(hit.ResetAfter).Unix()
		}
	}

	if best.Remaining < 0 {
		// Every tier errored. Allow, with no meaningful headers.
		best.Remaining = 0
	}
	return best
}
