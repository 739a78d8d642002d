package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/workhubhq/gatekeeper/internal/authctx"
	"github.com/workhubhq/gatekeeper/internal/rule"
	"github.com/workhubhq/gatekeeper/internal/testutil"
)

func newTestHandler(g *Guard, trustXFF bool) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(g, trustXFF)(ok)
}

func TestMiddlewareSetsRateLimitHeaders(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 5, WindowSeconds: 60}, ok: true}
	g := newTestGuard(res, testutil.NewMockCounter(), testutil.NewMockCounter(), nil)
	h := newTestHandler(g, false)

	req := httptest.NewRequest("GET", "/api/orders", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset missing")
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 1, WindowSeconds: 30}, ok: true}
	g := newTestGuard(res, testutil.NewMockCounter(), testutil.NewMockCounter(), nil)
	h := newTestHandler(g, false)

	req := httptest.NewRequest("GET", "/api/orders", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.StatusCode != 429 || body.RetryAfter != 30 || body.Message == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestMiddlewareUsesAuthIdentity(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 1, WindowSeconds: 60}, ok: true}
	primary := testutil.NewMockCounter()
	g := newTestGuard(res, primary, testutil.NewMockCounter(), nil)
	h := newTestHandler(g, false)

	req := httptest.NewRequest("GET", "/api/orders", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req = req.WithContext(authctx.WithCaller(req.Context(), "user-7", "basic"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if primary.Hits("user-7:GET:/api/orders") != 1 {
		t.Error("counting key should use the authenticated identity")
	}
}

func TestMiddlewareFallsBackToRemoteAddr(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 1, WindowSeconds: 60}, ok: true}
	primary := testutil.NewMockCounter()
	g := newTestGuard(res, primary, testutil.NewMockCounter(), nil)
	h := newTestHandler(g, false)

	req := httptest.NewRequest("GET", "/api/orders", nil)
	req.RemoteAddr = "192.0.2.7:4567"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if primary.Hits("192.0.2.7:GET:/api/orders") != 1 {
		t.Error("anonymous requests should count by client address")
	}
}

func TestMiddlewareForwardedFor(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 10, WindowSeconds: 60}, ok: true}

	// Trusted proxy: first XFF entry wins.
	primary := testutil.NewMockCounter()
	g := newTestGuard(res, primary, testutil.NewMockCounter(), nil)
	h := newTestHandler(g, true)
	req := httptest.NewRequest("GET", "/api/orders", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if primary.Hits("203.0.113.9:GET:/api/orders") != 1 {
		t.Error("trusted proxy should use the first X-Forwarded-For entry")
	}

	// Untrusted: the header is ignored.
	primary2 := testutil.NewMockCounter()
	g2 := newTestGuard(res, primary2, testutil.NewMockCounter(), nil)
	h2 := newTestHandler(g2, false)
	req2 := httptest.NewRequest("GET", "/api/orders", nil)
	req2.RemoteAddr = "10.0.0.1:1234"
	req2.Header.Set("X-Forwarded-For", "203.0.113.9")
	h2.ServeHTTP(httptest.NewRecorder(), req2)
	if primary2.Hits("10.0.0.1:GET:/api/orders") != 1 {
		t.Error("untrusted X-Forwarded-For must be ignored")
	}
}
