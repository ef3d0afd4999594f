package app

import (
	"time"

	"github.com/dolr-ai/github-report/internal/backfill"
	"github.com/dolr-ai/github-report/internal/cache"
	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/store"
)

const defaultQueueBuffer = 1024

func newRuntimeBackends(cfg *config.Config) (*store.MemoryStore, *backfill.InMemoryQueue) {
	retention := cfg.Schedule.MetricRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	maxSeries := cfg.Schedule.MaxSeriesBudget
	if maxSeries <= 0 {
		maxSeries = 100_000
	}

	// Every date of the window can be queued at once, plus one retry each.
	buffer := defaultQueueBuffer
	if window := cfg.Fetch.DaysBack * 2; window > buffer {
		buffer = window
	}
	return store.NewMemoryStore(retention, maxSeries), backfill.NewInMemoryQueue(buffer)
}

// DeduperFor returns the snapshot store as the backfill deduper when it can
// hold shared locks, so that several serve replicas do not re-queue the same
// date. It returns nil otherwise.
func DeduperFor(snapshots cache.Store) backfill.Deduper {
	if redisStore, ok := snapshots.(*cache.RedisStore); ok {
		return redisStore
	}
	return nil
}
