package backfill

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds how often one date is re-collected.
const DefaultMaxAttempts = 7

// ErrAttemptsExhausted is returned by Retry when a message used its last attempt.
var ErrAttemptsExhausted = errors.New("backfill attempts exhausted")

// QueuePublisher publishes backfill jobs.
type QueuePublisher interface {
	Publish(msg Message) error
}

// Deduper acquires dedup locks for messages.
type Deduper interface {
	Acquire(key string, ttl time.Duration, now time.Time) bool
}

// Config controls dispatcher behavior.
type Config struct {
	DedupTTL                   time.Duration
	MaxEnqueuesPerOrgPerMinute int
	MaxAttempts                int
}

// Message asks for one failed date to be collected again.
type Message struct {
	JobID       string    `json:"job_id"`
	DedupKey    string    `json:"dedup_key"`
	Org         string    `json:"org"`
	Date        string    `json:"date"`
	Reason      string    `json:"reason"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageInput is the enqueue input for a failed date.
type MessageInput struct {
	Org    string
	Date   string
	Reason string
	Now    time.Time
}

// EnqueueResult contains enqueue outcomes for observability.
type EnqueueResult struct {
	Published          bool
	DedupSuppressed    bool
	DroppedByRateLimit bool
	Err                error
}

// Dispatcher deduplicates and rate-limits backfill enqueueing.
type Dispatcher struct {
	mu           sync.Mutex
	config       Config
	queue        QueuePublisher
	deduper      Deduper
	perOrgMinute map[orgMinute]int
	newID        func() string
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config Config, queue QueuePublisher, deduper Deduper) *Dispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		config:       config,
		queue:        queue,
		deduper:      deduper,
		perOrgMinute: make(map[orgMinute]int),
		newID:        uuid.NewString,
	}
}

// EnqueueMissing enqueues a failed date unless an equal request is still
// deduplicated or the org exceeded its per-minute cap.
func (d *Dispatcher) EnqueueMissing(input MessageInput) EnqueueResult {
	dedupKey := DedupKey(input.Org, input.Date)
	if d.deduper != nil && !d.deduper.Acquire(dedupKey, d.config.DedupTTL, input.Now) {
		return EnqueueResult{DedupSuppressed: true}
	}
	if !d.allow(input.Org, input.Now) {
		return EnqueueResult{DroppedByRateLimit: true}
	}

	msg := Message{
		JobID:       d.newID(),
		DedupKey:    dedupKey,
		Org:         input.Org,
		Date:        input.Date,
		Reason:      input.Reason,
		Attempt:     1,
		MaxAttempts: d.config.MaxAttempts,
		CreatedAt:   input.Now,
	}
	if err := d.queue.Publish(msg); err != nil {
		return EnqueueResult{Err: fmt.Errorf("publish backfill for %s: %w", input.Date, err)}
	}
	return EnqueueResult{Published: true}
}

// Retry republishes msg for its next attempt. Dedup is bypassed because the
// original enqueue still holds the lock.
func (d *Dispatcher) Retry(msg Message, reason string, now time.Time) EnqueueResult {
	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.config.MaxAttempts
	}
	if msg.Attempt >= maxAttempts {
		return EnqueueResult{Err: fmt.Errorf("%w: %s after %d attempts", ErrAttemptsExhausted, msg.Date, msg.Attempt)}
	}
	if !d.allow(msg.Org, now) {
		return EnqueueResult{DroppedByRateLimit: true}
	}

	next := msg
	next.JobID = d.newID()
	next.Attempt = msg.Attempt + 1
	next.MaxAttempts = maxAttempts
	next.Reason = reason
	if err := d.queue.Publish(next); err != nil {
		return EnqueueResult{Err: fmt.Errorf("republish backfill for %s: %w", msg.Date, err)}
	}
	return EnqueueResult{Published: true}
}

type orgMinute struct {
	org    string
	minute int64
}

func (d *Dispatcher) allow(org string, now time.Time) bool {
	key := orgMinute{org: org, minute: now.Unix() / 60}

	d.mu.Lock()
	defer d.mu.Unlock()

	for existing := range d.perOrgMinute {
		if existing.minute != key.minute {
			delete(d.perOrgMinute, existing)
		}
	}
	count := d.perOrgMinute[key]
	if d.config.MaxEnqueuesPerOrgPerMinute > 0 && count >= d.config.MaxEnqueuesPerOrgPerMinute {
		return false
	}
	d.perOrgMinute[key] = count + 1
	return true
}

// DedupKey identifies all backfill requests for one org and date.
func DedupKey(org, date string) string {
	return strings.ToLower(strings.TrimSpace(org)) + ":" + strings.TrimSpace(date)
}

// ShouldDropMessageByAge returns true when a message exceeds max age.
func ShouldDropMessageByAge(msg Message, now time.Time, maxAge time.Duration) bool {
	if msg.CreatedAt.IsZero() || maxAge <= 0 {
		return false
	}
	return now.Sub(msg.CreatedAt) > maxAge
}
