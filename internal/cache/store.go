package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/activity"
)

// Backend names a snapshot storage implementation.
type Backend string

const (
	// BackendFile stores one JSON document per date on local disk.
	BackendFile Backend = "file"
	// BackendMemory keeps snapshots in process memory.
	BackendMemory Backend = "memory"
	// BackendRedis stores snapshots in Redis.
	BackendRedis Backend = "redis"
	// BackendSQLite stores snapshots in a SQLite database file.
	BackendSQLite Backend = "sqlite"
	// BackendPostgres stores snapshots in PostgreSQL.
	BackendPostgres Backend = "postgres"
	// BackendMySQL stores snapshots in MySQL.
	BackendMySQL Backend = "mysql"
)

// ErrInvalidSnapshot is returned when a snapshot fails structural validation on write.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Store persists one DailySnapshot per calendar date.
type Store interface {
	// Write fully replaces the entry for snapshot.Date.
	Write(ctx context.Context, snapshot activity.DailySnapshot) error
	// Read returns the entry for date. found is false when no entry exists.
	Read(ctx context.Context, date string) (snapshot activity.DailySnapshot, found bool, err error)
	// Dates lists cached dates in ascending order.
	Dates(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend
	Dir     string
	DSN     string
	Table   string
	Redis   RedisConfig
}

// Open builds the configured store and verifies it is reachable.
func Open(ctx context.Context, cfg Config, logger ...*zap.Logger) (Store, error) {
	zapLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		zapLogger = logger[0]
	}

	backend := Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		zapLogger.Info(
			"using redis snapshot cache",
			zap.String("mode", cfg.Redis.Mode),
			zap.String("namespace", cfg.Redis.Namespace),
		)
		return NewRedisStore(client, RedisStoreConfig{Namespace: cfg.Redis.Namespace}), nil
	case BackendSQLite, BackendPostgres, BackendMySQL:
		store, err := NewSQLStore(ctx, backend, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, err
		}
		zapLogger.Info(
			"using sql snapshot cache",
			zap.String("backend", string(backend)),
			zap.String("table", store.table),
		)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func validateForWrite(snapshot activity.DailySnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidSnapshot, snapshot.Date, err)
	}
	return nil
}

func validateDate(date string) error {
	if _, err := time.Parse(activity.DateLayout, date); err != nil {
		return fmt.Errorf("invalid snapshot date %q", date)
	}
	return nil
}
