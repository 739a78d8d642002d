package rule

import (
	"context"
	"strings"
)

// Match is the resolver's output: just enough for the admission guard
// to build a counter key and compare against a threshold.
type Match struct {
	RuleID        string
	MaxRequests   int
	WindowSeconds int
	Scope         string
}

// Resolver picks the single rule governing a request, if any.
type Resolver struct {
	cache *Cache
}

// NewResolver builds a Resolver over cache.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve filters the cached rules by method and path and returns the
// highest-scoring applicable match. Scope scoring: role 3,
// unauthenticated 2 (only when the caller has no role), all 1. Scopes
// that do not apply to this caller are excluded before scoring, so a
// rule for a role the caller lacks can never win. Ties break on lowest
// rule ID for reproducibility. The second return is false when no rule
// applies and the caller should use the static fallback policy.
func (r *Resolver) Resolve(ctx context.Context, path, method, callerRole string) (Match, bool) {
	rules := r.cache.ActiveRules(ctx)
	if len(rules) == 0 {
		return Match{}, false
	}

	var (
		best      Rule
		bestScore int
	)
	for _, c := range rules {
		if c.Rule.Method != "*" && !strings.EqualFold(c.Rule.Method, method) {
			continue
		}
		if !c.Matcher.Match(path) {
			continue
		}
		score := scopeScore(c.Rule.Scope, callerRole)
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && c.Rule.ID < best.ID) {
			best = c.Rule
			bestScore = score
		}
	}
	if bestScore == 0 {
		return Match{}, false
	}
	return Match{
		RuleID:        best.ID,
		MaxRequests:   best.MaxRequests,
		WindowSeconds: best.WindowSeconds,
		Scope:         best.Scope,
	}, true
}

// scopeScore returns 0 when the scope does not apply to this caller.
// An absent role and an empty role are treated identically.
func scopeScore(scope, callerRole string) int {
	switch {
	case strings.HasPrefix(scope, rolePrefix):
		if callerRole != "" && ScopeRole(scope) == callerRole {
			return 3
		}
		return 0
	case scope == ScopeUnauthenticated:
		if callerRole == "" {
			return 2
		}
		return 0
	case scope == ScopeAll:
		return 1
	default:
		return 0
	}
}
