// Package rule holds the persisted admission rules, their relational
// store, the in-process rule cache, and the resolver that picks the
// rule governing a request.
package rule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scope values. A rule applies to every caller, to unauthenticated
// callers only, or to callers holding a specific role ("role:<name>").
const (
	ScopeAll             = "all"
	ScopeUnauthenticated = "unauthenticated"

	rolePrefix = "role:"
)

// Bounds for rule quotas.
const (
	MaxRequestsCeiling   = 10000
	WindowSecondsCeiling = 86400 // one day
)

// ErrInvalid marks validation failures surfaced to the admin API as 400.
var ErrInvalid = errors.New("invalid rule")

var validMethods = map[string]bool{
	"*": true, "GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true,
}

// Rule is a persisted admission rule. The (RoutePattern, Method, Scope)
// triple is unique across active and inactive rows; the store re-checks
// it at write time so updates are validated against their merged values,
// not just the column constraint.
type Rule struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	RoutePattern  string    `gorm:"not null;size:255;uniqueIndex:idx_rules_route_method_scope" json:"routePattern"`
	Method        string    `gorm:"not null;size:16;uniqueIndex:idx_rules_route_method_scope" json:"method"`
	MaxRequests   int       `gorm:"not null" json:"maxRequests"`
	WindowSeconds int       `gorm:"not null" json:"windowSeconds"`
	Scope         string    `gorm:"not null;size:80;uniqueIndex:idx_rules_route_method_scope" json:"scope"`
	IsActive      bool      `gorm:"not null" json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Window returns the rule's counting window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Validate checks field bounds and enumerations. Errors wrap ErrInvalid.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.RoutePattern) == "" {
		return fmt.Errorf("%w: routePattern must not be empty", ErrInvalid)
	}
	if !strings.HasPrefix(r.RoutePattern, "/") {
		return fmt.Errorf("%w: routePattern must start with /", ErrInvalid)
	}
	if !validMethods[strings.ToUpper(r.Method)] {
		return fmt.Errorf("%w: method %q is not a supported HTTP verb or *", ErrInvalid, r.Method)
	}
	if r.MaxRequests < 1 || r.MaxRequests > MaxRequestsCeiling {
		return fmt.Errorf("%w: maxRequests must be between 1 and %d, got %d", ErrInvalid, MaxRequestsCeiling, r.MaxRequests)
	}
	if r.WindowSeconds < 1 || r.WindowSeconds > WindowSecondsCeiling {
		return fmt.Errorf("%w: windowSeconds must be between 1 and %d, got %d", ErrInvalid, WindowSecondsCeiling, r.WindowSeconds)
	}
	if !ValidScope(r.Scope) {
		return fmt.Errorf("%w: scope must be all, unauthenticated, or role:<name>; got %q", ErrInvalid, r.Scope)
	}
	return nil
}

// ValidScope reports whether s is a well-formed scope tag.
func ValidScope(s string) bool {
	if s == ScopeAll || s == ScopeUnauthenticated {
		return true
	}
	if strings.HasPrefix(s, rolePrefix) {
		return strings.TrimSpace(strings.TrimPrefix(s, rolePrefix)) != ""
	}
	return false
}

// ScopeRole extracts the role name from a "role:<name>" scope.
// Returns "" for all/unauthenticated scopes.
func ScopeRole(s string) string {
	if strings.HasPrefix(s, rolePrefix) {
		return strings.TrimPrefix(s, rolePrefix)
	}
	return ""
}
