package exporter

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dolr-ai/github-report/internal/store"
)

// CacheConfig configures the snapshot cache used by /metrics rendering.
type CacheConfig struct {
	RefreshInterval time.Duration
	Now             func() time.Time
}

// CachedSnapshotReader serves the last snapshot of an expensive source for RefreshInterval.
type CachedSnapshotReader struct {
	source          SnapshotReader
	refreshInterval time.Duration
	now             func() time.Time

	mu          sync.RWMutex
	initialized bool
	lastRefresh time.Time
	series      map[string]store.MetricPoint
}

// NewCachedSnapshotReader wraps a snapshot reader with periodic cache refresh.
func NewCachedSnapshotReader(source SnapshotReader, cfg CacheConfig) *CachedSnapshotReader {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	refreshInterval := cfg.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}

	return &CachedSnapshotReader{
		source:          source,
		refreshInterval: refreshInterval,
		now:             nowFn,
		series:          make(map[string]store.MetricPoint),
	}
}

// Snapshot returns the cached series, refreshing them from the source when stale.
func (c *CachedSnapshotReader) Snapshot() []store.MetricPoint {
	if c == nil || c.source == nil {
		return nil
	}
	c.refreshIfNeeded()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedSnapshotLocked()
}

// Invalidate forces the next Snapshot to read the source.
func (c *CachedSnapshotReader) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
}

func (c *CachedSnapshotReader) refreshIfNeeded() {
	now := c.now()

	c.mu.RLock()
	if c.initialized && now.Sub(c.lastRefresh) < c.refreshInterval {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized && now.Sub(c.lastRefresh) < c.refreshInterval {
		return
	}

	points := c.source.Snapshot()
	next := make(map[string]store.MetricPoint, len(points))
	for _, point := range points {
		next[seriesKey(point)] = clonePoint(point)
	}
	c.series = next
	c.lastRefresh = now
	c.initialized = true
}

func (c *CachedSnapshotReader) sortedSnapshotLocked() []store.MetricPoint {
	if len(c.series) == 0 {
		return nil
	}

	keys := make([]string, 0, len(c.series))
	for key := range c.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]store.MetricPoint, 0, len(keys))
	for _, key := range keys {
		result = append(result, clonePoint(c.series[key]))
	}
	return result
}

func clonePoint(point store.MetricPoint) store.MetricPoint {
	return store.MetricPoint{
		Name:      point.Name,
		Labels:    maps.Clone(point.Labels),
		Value:     point.Value,
		UpdatedAt: point.UpdatedAt,
	}
}

func seriesKey(point store.MetricPoint) string {
	labelKeys := make([]string, 0, len(point.Labels))
	for key := range point.Labels {
		labelKeys = append(labelKeys, key)
	}
	sort.Strings(labelKeys)

	builder := strings.Builder{}
	builder.WriteString(point.Name)
	builder.WriteString("|")
	for _, key := range labelKeys {
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(point.Labels[key])
		builder.WriteString(";")
	}
	return builder.String()
}
