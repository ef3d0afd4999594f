package store

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricPoint is one operational gauge series.
type MetricPoint struct {
	Name      string
	Labels    map[string]string
	Value     float64
	UpdatedAt time.Time
}

type storedMetric struct {
	point MetricPoint
}

// MemoryStore holds operational metrics and lock state for the serve runtime.
type MemoryStore struct {
	mu         sync.RWMutex
	retention  time.Duration
	maxSeries  int
	metrics    map[string]storedMetric
	jobLocks   map[string]time.Time
	dedupLocks map[string]time.Time
}

// NewMemoryStore creates a memory store. A non-positive retention keeps series forever.
func NewMemoryStore(retention time.Duration, maxSeries int) *MemoryStore {
	return &MemoryStore{
		retention:  retention,
		maxSeries:  maxSeries,
		metrics:    make(map[string]storedMetric),
		jobLocks:   make(map[string]time.Time),
		dedupLocks: make(map[string]time.Time),
	}
}

// UpsertMetric inserts or replaces a series.
func (s *MemoryStore) UpsertMetric(point MetricPoint) error {
	if err := validatePoint(point); err != nil {
		return err
	}
	key := metricKey(point.Name, point.Labels)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBudgetLocked(key); err != nil {
		return err
	}
	s.metrics[key] = storedMetric{point: clonePoint(point)}
	return nil
}

// AddMetric adds point.Value to the existing series value.
func (s *MemoryStore) AddMetric(point MetricPoint) error {
	if err := validatePoint(point); err != nil {
		return err
	}
	key := metricKey(point.Name, point.Labels)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBudgetLocked(key); err != nil {
		return err
	}
	stored := clonePoint(point)
	if existing, ok := s.metrics[key]; ok {
		stored.Value += existing.point.Value
	}
	s.metrics[key] = storedMetric{point: stored}
	return nil
}

// AcquireJobLock acquires an idempotency lock for a job id.
func (s *MemoryStore) AcquireJobLock(jobID string, ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return acquireLock(s.jobLocks, jobID, ttl, now)
}

// Acquire acquires a dedup lock for a key. It is an adapter for backfill deduper interfaces.
func (s *MemoryStore) Acquire(key string, ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return acquireLock(s.dedupLocks, key, ttl, now)
}

// GC deletes expired metrics and locks.
func (s *MemoryStore) GC(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention > 0 {
		for key, metric := range s.metrics {
			if now.Sub(metric.point.UpdatedAt) > s.retention {
				delete(s.metrics, key)
			}
		}
	}

	trimExpiredLocks(s.jobLocks, now)
	trimExpiredLocks(s.dedupLocks, now)
}

// Snapshot returns all retained metrics ordered by series key.
func (s *MemoryStore) Snapshot() []MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MetricPoint, 0, len(s.metrics))
	for _, metric := range s.metrics {
		result = append(result, clonePoint(metric.point))
	}

	sort.Slice(result, func(i, j int) bool {
		return metricKey(result[i].Name, result[i].Labels) < metricKey(result[j].Name, result[j].Labels)
	})
	return result
}

func (s *MemoryStore) checkBudgetLocked(key string) error {
	if _, exists := s.metrics[key]; !exists && s.maxSeries > 0 && len(s.metrics) >= s.maxSeries {
		return fmt.Errorf("max series budget exceeded")
	}
	return nil
}

func validatePoint(point MetricPoint) error {
	if point.Name == "" {
		return fmt.Errorf("metric name is required")
	}
	if point.UpdatedAt.IsZero() {
		return fmt.Errorf("metric updated time is required")
	}
	return nil
}

func clonePoint(point MetricPoint) MetricPoint {
	return MetricPoint{
		Name:      point.Name,
		Labels:    maps.Clone(point.Labels),
		Value:     point.Value,
		UpdatedAt: point.UpdatedAt,
	}
}

func metricKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder := strings.Builder{}
	builder.WriteString(name)
	builder.WriteString("|")
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(labels[key])
		builder.WriteString(";")
	}
	return builder.String()
}

func acquireLock(lockMap map[string]time.Time, key string, ttl time.Duration, now time.Time) bool {
	expiry, exists := lockMap[key]
	if exists && now.Before(expiry) {
		return false
	}
	lockMap[key] = now.Add(ttl)
	return true
}

func trimExpiredLocks(lockMap map[string]time.Time, now time.Time) {
	for key, expiry := range lockMap {
		if !now.Before(expiry) {
			delete(lockMap, key)
		}
	}
}
