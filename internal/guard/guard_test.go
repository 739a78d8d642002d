package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/workhubhq/gatekeeper/internal/rule"
	"github.com/workhubhq/gatekeeper/internal/testutil"
)

// staticResolver always yields the same match (or a miss).
type staticResolver struct {
	m  rule.Match
	ok bool
}

func (r staticResolver) Resolve(context.Context, string, string, string) (rule.Match, bool) {
	return r.m, r.ok
}

func testRequest() Request {
	return Request{Path: "/api/orders", Method: "POST", CallerID: "user-1"}
}

func newTestGuard(res Resolver, primary, fallback *testutil.MockCounter, tiers []Tier) *Guard {
	return New(res, primary, fallback, tiers, zerolog.Nop())
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 3, WindowSeconds: 60}, ok: true}
	primary := testutil.NewMockCounter()
	g := newTestGuard(res, primary, testutil.NewMockCounter(), nil)

	for i := 0; i < 3; i++ {
		d := g.Check(context.Background(), testRequest())
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Source != SourceRule {
			t.Errorf("source = %q, want rule", d.Source)
		}
		if want := int64(3 - (i + 1)); d.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestCheckDeniesOverLimit(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 2, WindowSeconds: 60}, ok: true}
	g := newTestGuard(res, testutil.NewMockCounter(), testutil.NewMockCounter(), nil)
	ctx := context.Background()

	g.Check(ctx, testRequest())
	g.Check(ctx, testRequest())
	d := g.Check(ctx, testRequest())
	if d.Allowed {
		t.Fatal("third request over a limit of 2 should be denied")
	}
	if d.RetryAfter != 60 {
		t.Errorf("RetryAfter = %d, want 60", d.RetryAfter)
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.Limit != 2 {
		t.Errorf("Limit = %d, want 2", d.Limit)
	}
}

func TestCheckSeparateCallersSeparateBudgets(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 1, WindowSeconds: 60}, ok: true}
	g := newTestGuard(res, testutil.NewMockCounter(), testutil.NewMockCounter(), nil)
	ctx := context.Background()

	a := testRequest()
	b := testRequest()
	b.CallerID = "user-2"

	g.Check(ctx, a)
	if d := g.Check(ctx, a); d.Allowed {
		t.Error("caller a over budget should be denied")
	}
	if d := g.Check(ctx, b); !d.Allowed {
		t.Error("caller b has an untouched budget")
	}
}

func TestCheckMissUsesFallback(t *testing.T) {
	g := newTestGuard(staticResolver{}, testutil.NewMockCounter(), testutil.NewMockCounter(), nil)

	d := g.Check(context.Background(), testRequest())
	if !d.Allowed {
		t.Fatal("first fallback request should be allowed")
	}
	if d.Source != SourceFallback {
		t.Errorf("source = %q, want fallback", d.Source)
	}
}

func TestCheckCounterErrorDegradesToFallback(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 100, WindowSeconds: 60}, ok: true}
	primary := testutil.NewMockCounter()
	fallback := testutil.NewMockCounter()
	g := newTestGuard(res, primary, fallback, nil)
	ctx := context.Background()

	primary.SetError(errors.New("connection refused"))

	d := g.Check(ctx, testRequest())
	if !d.Allowed {
		t.Fatal("fallback should govern while the primary is down")
	}
	if d.Source != SourceFallback {
		t.Errorf("source = %q, want fallback", d.Source)
	}

	// The static short tier is 3 per second: the 4th request in the
	// outage window is denied even though the dynamic rule allows 100.
	primary.SetError(errors.New("connection refused"))
	g.Check(ctx, testRequest())
	primary.SetError(errors.New("connection refused"))
	g.Check(ctx, testRequest())
	primary.SetError(errors.New("connection refused"))
	d = g.Check(ctx, testRequest())
	if d.Allowed {
		t.Error("fallback short tier should deny the 4th request")
	}
	if d.Source != SourceFallback {
		t.Errorf("source = %q, want fallback", d.Source)
	}
}

func TestCheckRecoversAfterCounterError(t *testing.T) {
	res := staticResolver{m: rule.Match{RuleID: "r1", MaxRequests: 100, WindowSeconds: 60}, ok: true}
	primary := testutil.NewMockCounter()
	g := newTestGuard(res, primary, testutil.NewMockCounter(), nil)
	ctx := context.Background()

	primary.SetError(errors.New("connection refused"))
	g.Check(ctx, testRequest())

	primary.SetError(nil)
	d := g.Check(ctx, testRequest())
	if d.Source != SourceRule {
		t.Errorf("source after recovery = %q, want rule", d.Source)
	}
}

func TestFallbackTierDenialPicksTightestTier(t *testing.T) {
	tiers := []Tier{
		{Name: "short", MaxRequests: 2, Window: time.Second},
		{Name: "long", MaxRequests: 100, Window: time.Minute},
	}
	g := newTestGuard(staticResolver{}, testutil.NewMockCounter(), testutil.NewMockCounter(), tiers)
	ctx := context.Background()

	g.Check(ctx, testRequest())
	g.Check(ctx, testRequest())
	d := g.Check(ctx, testRequest())
	if d.Allowed {
		t.Fatal("short tier exhausted, request should be denied")
	}
	if d.Limit != 2 {
		t.Errorf("denial should carry the exceeded tier's limit, got %d", d.Limit)
	}
	if d.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1", d.RetryAfter)
	}
}

func TestFallbackHeadersReflectTightestRemaining(t *testing.T) {
	tiers := []Tier{
		{Name: "short", MaxRequests: 10, Window: time.Second},
		{Name: "long", MaxRequests: 3, Window: time.Minute},
	}
	g := newTestGuard(staticResolver{}, testutil.NewMockCounter(), testutil.NewMockCounter(), tiers)

	d := g.Check(context.Background(), testRequest())
	if !d.Allowed {
		t.Fatal("first request should pass every tier")
	}
	if d.Limit != 3 || d.Remaining != 2 {
		t.Errorf("headers should track the tier with fewest remaining, got limit=%d remaining=%d", d.Limit, d.Remaining)
	}
}

func TestFallbackStoreErrorStillAnswers(t *testing.T) {
	fallback := testutil.NewMockCounter()
	fallback.SetError(errors.New("disk full"))
	g := newTestGuard(staticResolver{}, testutil.NewMockCounter(), fallback, nil)

	d := g.Check(context.Background(), testRequest())
	if !d.Allowed {
		t.Error("a fully failed fallback store must not turn into a denial")
	}
	if d.Source != SourceFallback {
		t.Errorf("source = %q, want fallback", d.Source)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("medium", "20:10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tier.MaxRequests != 20 || tier.Window != 10*time.Second || tier.Name != "medium" {
		t.Errorf("tier = %+v", tier)
	}

	for _, bad := range []string{"", "20", "0:10", "20:0", "x:10", "20:y"} {
		if _, err := ParseTier("t", bad); err == nil {
			t.Errorf("ParseTier(%q) should fail", bad)
		}
	}
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	if len(tiers) != 3 {
		t.Fatalf("got %d tiers", len(tiers))
	}
	if tiers[0].MaxRequests != 3 || tiers[0].Window != time.Second {
		t.Errorf("short tier = %+v", tiers[0])
	}
}
