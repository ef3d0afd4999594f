package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dolr-ai/github-report/internal/activity"
)

const defaultNamespace = "github-report"

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Mode          string
	Addr          string
	MasterSet     string
	SentinelAddrs []string
	Password      string
	DB            int
	Namespace     string
}

// RedisStoreConfig configures key layout of the Redis store.
type RedisStoreConfig struct {
	Namespace string
}

// RedisStore stores snapshot documents and dedup locks in Redis.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
	tracer    trace.Tracer
}

// NewRedisClient connects to a standalone or sentinel-managed Redis and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	var client redis.UniversalClient
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "sentinel":
		if cfg.MasterSet == "" || len(cfg.SentinelAddrs) == 0 {
			return nil, fmt.Errorf("redis sentinel mode requires a master set and sentinel addresses")
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterSet,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
		})
	case "", "standalone":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported redis mode %q", cfg.Mode)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &RedisStore{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
		tracer:    otel.Tracer("github.com/dolr-ai/github-report/internal/cache"),
	}
}

// Write replaces the snapshot document for snapshot.Date and indexes the date.
func (s *RedisStore) Write(ctx context.Context, snapshot activity.DailySnapshot) (err error) {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.tracer.Start(ctx, "redis.write_snapshot", trace.WithAttributes(
		attribute.String("snapshot.date", snapshot.Date),
		attribute.Int("snapshot.commits", len(snapshot.Commits)),
	))
	defer func() {
		endSpan(span, err)
	}()

	if err := validateForWrite(snapshot); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.snapshotKey(snapshot.Date), payload, 0).Err(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snapshot.Date, err)
	}
	if err := s.client.SAdd(ctx, s.datesKey(), snapshot.Date).Err(); err != nil {
		return fmt.Errorf("index snapshot %s: %w", snapshot.Date, err)
	}
	return nil
}

// Read returns the snapshot document for date.
func (s *RedisStore) Read(ctx context.Context, date string) (snapshot activity.DailySnapshot, found bool, err error) {
	if s == nil || s.client == nil {
		return activity.DailySnapshot{}, false, fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.tracer.Start(ctx, "redis.read_snapshot", trace.WithAttributes(
		attribute.String("snapshot.date", date),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("snapshot.found", found))
		endSpan(span, err)
	}()

	if err := validateDate(date); err != nil {
		return activity.DailySnapshot{}, false, err
	}
	payload, err := s.client.Get(ctx, s.snapshotKey(date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return activity.DailySnapshot{}, false, nil
	}
	if err != nil {
		return activity.DailySnapshot{}, false, fmt.Errorf("read snapshot %s: %w", date, err)
	}
	return decodeSnapshot(date, payload), true, nil
}

// Dates lists indexed dates in ascending order.
func (s *RedisStore) Dates(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis store is not initialized")
	}
	dates, err := s.client.SMembers(ctx, s.datesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	sort.Strings(dates)
	return dates, nil
}

// Acquire takes a dedup lock for key. It is an adapter for backfill deduper interfaces.
func (s *RedisStore) Acquire(key string, ttl time.Duration, now time.Time) bool {
	return s.acquireLock("lock:dedup:"+key, ttl, now)
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func (s *RedisStore) acquireLock(suffix string, ttl time.Duration, now time.Time) bool {
	if s == nil || s.client == nil {
		return false
	}
	if ttl <= 0 {
		return true
	}
	ok, err := s.client.SetNX(context.Background(), s.prefixed(suffix), now.UnixNano(), ttl).Result()
	if err != nil {
		return false
	}
	return ok
}

func (s *RedisStore) snapshotKey(date string) string {
	return s.prefixed("snapshot:" + date)
}

func (s *RedisStore) datesKey() string {
	return s.prefixed("snapshots:dates")
}

func (s *RedisStore) prefixed(suffix string) string {
	return s.namespace + ":" + suffix
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
