package counter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/workhubhq/gatekeeper/internal/metrics"
)

// Janitor periodically prunes expired window entries from the local
// counter stores and refreshes the database size gauge.
type Janitor struct {
	bolt     *BoltStore
	memory   *MemoryStore
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor. Either store may be nil; interval <= 0
// falls back to ten minutes.
func NewJanitor(bolt *BoltStore, memory *MemoryStore, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{bolt: bolt, memory: memory, interval: interval, log: log}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	if j.bolt != nil {
		pruned, err := j.bolt.PruneExpired()
		if err != nil {
			j.log.Warn().Err(err).Msg("janitor: prune expired windows failed")
		} else if pruned > 0 {
			j.log.Debug().Int("count", pruned).Msg("janitor: pruned expired windows")
		}

		size, err := j.bolt.SizeBytes()
		if err != nil {
			j.log.Warn().Err(err).Msg("janitor: read counter db size failed")
		} else {
			metrics.CounterDBSizeBytes.Set(float64(size))
		}
	}

	if j.memory != nil {
		if pruned := j.memory.Prune(); pruned > 0 {
			j.log.Debug().Int("count", pruned).Msg("janitor: pruned in-memory windows")
		}
	}
}
