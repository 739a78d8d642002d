package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltIncrementCounts(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		hit, err := s.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if hit.TotalHits != i {
			t.Errorf("hit %d: TotalHits = %d", i, hit.TotalHits)
		}
	}
}

func TestBoltWindowExpiry(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", 10*time.Millisecond)
	_, _ = s.Increment(ctx, "k", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	hit, err := s.Increment(ctx, "k", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if hit.TotalHits != 1 {
		t.Errorf("expired window should restart at 1, got %d", hit.TotalHits)
	}
}

func TestBoltConcurrentIncrements(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := s.Increment(ctx, "shared", time.Minute); err != nil {
					t.Errorf("increment: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	hit, err := s.Increment(ctx, "shared", time.Minute)
	if err != nil {
		t.Fatalf("final increment: %v", err)
	}
	if want := int64(goroutines*perGoroutine + 1); hit.TotalHits != want {
		t.Errorf("TotalHits = %d, want %d", hit.TotalHits, want)
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBoltStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = s.Increment(ctx, "k", time.Hour)
	_, _ = s.Increment(ctx, "k", time.Hour)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewBoltStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	hit, err := s2.Increment(ctx, "k", time.Hour)
	if err != nil {
		t.Fatalf("increment after reopen: %v", err)
	}
	if hit.TotalHits != 3 {
		t.Errorf("counts must survive restart, got %d", hit.TotalHits)
	}
}

func TestBoltPruneExpired(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	_, _ = s.Increment(ctx, "old", 5*time.Millisecond)
	_, _ = s.Increment(ctx, "live", time.Hour)
	time.Sleep(10 * time.Millisecond)

	pruned, err := s.PruneExpired()
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	hit, _ := s.Increment(ctx, "live", time.Hour)
	if hit.TotalHits != 2 {
		t.Errorf("live window lost by prune: TotalHits = %d", hit.TotalHits)
	}
}

func TestBoltSizeBytes(t *testing.T) {
	s := openTestBolt(t)
	size, err := s.SizeBytes()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size <= 0 {
		t.Errorf("size = %d, want > 0", size)
	}
}
