// Package authctx carries the caller identity and role attached by the
// upstream auth layer through the request context. The admission guard
// and the admin API read it; nothing here validates credentials.
package authctx

import (
	"context"
	"net/http"
	"strings"
)

// Headers set by the trusted auth proxy in front of this service.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	roleKey
)

// WithCaller returns a context carrying the caller's identity and role.
// Empty strings mean unauthenticated / no role.
func WithCaller(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, roleKey, role)
}

// CallerID returns the authenticated user id, or "" when the caller is
// unauthenticated.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(string)
	return id
}

// CallerRole returns the caller's role. No role and an empty role are
// the same thing.
func CallerRole(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// Middleware lifts the trusted identity headers into the request
// context before admission control runs.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderUserID))
			role := strings.TrimSpace(r.Header.Get(HeaderUserRole))
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), id, role)))
		})
	}
}

// RequireRole rejects requests whose caller does not hold role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CallerRole(r.Context()) != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
