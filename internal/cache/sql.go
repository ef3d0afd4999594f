package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/dolr-ai/github-report/internal/activity"
)

// DefaultTable is the snapshot table name used when none is configured.
const DefaultTable = "daily_snapshots"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLStore stores snapshots in a relational table keyed by date.
type SQLStore struct {
	db      *sql.DB
	table   string
	backend Backend
}

// NewSQLStore opens the database for backend, pings it and creates the snapshot table.
func NewSQLStore(ctx context.Context, backend Backend, dsn string, table string) (*SQLStore, error) {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	var driverName string
	switch backend {
	case BackendSQLite:
		driverName = "sqlite"
		if dsn == "" {
			dsn = "github-report.db"
		}
	case BackendPostgres:
		driverName = "pgx"
	case BackendMySQL:
		// user:password@tcp(host:port)/dbname
		driverName = "mysql"
	default:
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s cache requires a dsn", backend)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", backend, err)
	}
	if backend == BackendSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s cache: %w", backend, err)
	}

	store := &SQLStore{db: db, table: table, backend: backend}
	if _, err := db.ExecContext(ctx, store.createTableQuery()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return store, nil
}

// Write upserts the row for snapshot.Date.
func (s *SQLStore) Write(ctx context.Context, snapshot activity.DailySnapshot) error {
	if err := validateForWrite(snapshot); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		s.upsertQuery(),
		snapshot.Date,
		payload,
		snapshot.SchemaVersion,
		snapshot.FetchedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snapshot.Date, err)
	}
	return nil
}

// Read returns the row for date.
func (s *SQLStore) Read(ctx context.Context, date string) (activity.DailySnapshot, bool, error) {
	if err := validateDate(date); err != nil {
		return activity.DailySnapshot{}, false, err
	}
	query := fmt.Sprintf(
		`SELECT payload FROM %s WHERE snapshot_date = %s`,
		s.quotedTable(),
		s.placeholder(1),
	)
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return activity.DailySnapshot{}, false, nil
	}
	if err != nil {
		return activity.DailySnapshot{}, false, fmt.Errorf("read snapshot %s: %w", date, err)
	}
	return decodeSnapshot(date, payload), true, nil
}

// Dates lists stored dates in ascending order.
func (s *SQLStore) Dates(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT snapshot_date FROM %s ORDER BY snapshot_date`, s.quotedTable())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	dates := []string{}
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("scan snapshot date: %w", err)
		}
		dates = append(dates, date)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	return dates, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) createTableQuery() string {
	switch s.backend {
	case BackendMySQL:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				snapshot_date VARCHAR(10) PRIMARY KEY,
				payload LONGBLOB NOT NULL,
				schema_version INT NOT NULL,
				fetched_at BIGINT NOT NULL
			);
		`, s.quotedTable())
	case BackendPostgres:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				snapshot_date TEXT PRIMARY KEY,
				payload BYTEA NOT NULL,
				schema_version INTEGER NOT NULL,
				fetched_at BIGINT NOT NULL
			);
		`, s.quotedTable())
	default:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				snapshot_date TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				schema_version INTEGER NOT NULL,
				fetched_at INTEGER NOT NULL
			);
		`, s.quotedTable())
	}
}

func (s *SQLStore) upsertQuery() string {
	switch s.backend {
	case BackendMySQL:
		return fmt.Sprintf(`INSERT INTO %s (snapshot_date, payload, schema_version, fetched_at) VALUES (?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE payload = new.payload, schema_version = new.schema_version, fetched_at = new.fetched_at`, s.quotedTable())
	case BackendPostgres:
		return fmt.Sprintf(`INSERT INTO %s (snapshot_date, payload, schema_version, fetched_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (snapshot_date) DO UPDATE SET payload = EXCLUDED.payload, schema_version = EXCLUDED.schema_version, fetched_at = EXCLUDED.fetched_at`, s.quotedTable())
	default:
		return fmt.Sprintf(`INSERT OR REPLACE INTO %s (snapshot_date, payload, schema_version, fetched_at) VALUES (?, ?, ?, ?)`, s.quotedTable())
	}
}

func (s *SQLStore) placeholder(n int) string {
	if s.backend == BackendPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) quotedTable() string {
	if s.backend == BackendMySQL {
		return "`" + s.table + "`"
	}
	return `"` + s.table + `"`
}

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q (must match %s)", name, tableNamePattern.String())
	}
	return nil
}
