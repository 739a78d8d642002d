// Package counter provides atomic per-key fixed-window request
// counters. A backend never fails open: when it cannot answer, the
// error is propagated and the admission guard decides what to do.
package counter

import (
	"context"
	"time"
)

// Hit is the post-increment observation for a key. TotalHits includes
// the increment that produced it; ResetAfter is the time left in the
// current window.
type Hit struct {
	TotalHits  int64
	ResetAfter time.Duration
}

// Store is a windowed increment-and-read counter. Increment atomically
// adds one to key's counter, (re)initialising it to 1 with a fresh
// expiry when the key is absent or its window has elapsed. Under
// concurrent calls with the same key every increment is observed
// exactly once in the returned totals.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Hit, error)
}
