package guard

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/workhubhq/gatekeeper/internal/authctx"
)

// rejectBody is the JSON payload of a 429 response.
type rejectBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware runs the admission check before the wrapped handler. It
// sets the standard rate-limit headers on every checked request and
// translates a denied decision into a 429 JSON response; the decision
// logic itself stays transport-free in Check.
func Middleware(g *Guard, trustForwardedFor bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := authctx.CallerID(r.Context())
			if callerID == "" {
				callerID = clientAddr(r, trustForwardedFor)
			}

			d := g.Check(r.Context(), Request{
				Path:       r.URL.Path,
				Method:     r.Method,
				CallerID:   callerID,
				CallerRole: authctx.CallerRole(r.Context()),
			})

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.FormatInt(d.RetryAfter, 10))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejectBody{
					StatusCode: http.StatusTooManyRequests,
					Message:    "Too many requests",
					RetryAfter: d.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr extracts the caller address for unauthenticated requests.
// X-Forwarded-For is honored only behind a trusted proxy; the first
// entry is the original client.
func clientAddr(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
