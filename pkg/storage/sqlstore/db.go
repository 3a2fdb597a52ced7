package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/herald/pkg/storage"
)

// Dialect captures the differences between the supported SQL backends
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// Rebind rewrites $N placeholders into the dialect's numbered form
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

func (d Dialect) timestampType() string {
	if d == DialectSQLite {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

// PoolOptions tunes the connection pool
type PoolOptions struct {
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open connects to the database, configures the pool and pings it
func Open(ctx context.Context, dialect Dialect, dsn string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// :memory: databases exist per connection, so SQLite gets exactly one
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxConns > 0 {
			db.SetMaxOpenConns(opts.MaxConns)
		}
		if opts.MinConns > 0 {
			db.SetMaxIdleConns(opts.MinConns)
		}
	}
	if opts.MaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}
	if opts.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.MaxIdleTime)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect, err)
	}
	return db, nil
}

// OpenFromConfig opens the database selected by a postgres or sqlite store config
func OpenFromConfig(ctx context.Context, cfg storage.Config) (*sql.DB, Dialect, error) {
	switch cfg.StoreType {
	case storage.StorePostgres:
		db, err := Open(ctx, DialectPostgres, cfg.PostgresURL, PoolOptions{
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
			MaxLifetime: time.Hour,
			MaxIdleTime: 10 * time.Minute,
		})
		return db, DialectPostgres, err
	case storage.StoreSQLite:
		db, err := Open(ctx, DialectSQLite, cfg.SQLitePath, PoolOptions{})
		return db, DialectSQLite, err
	default:
		return nil, "", fmt.Errorf("store type %q is not SQL backed", cfg.StoreType)
	}
}

// Migrate creates the endpoint table and its company index if missing
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	ts := dialect.timestampType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS webhook_endpoints (
			id               TEXT PRIMARY KEY,
			company_id       TEXT NOT NULL,
			url              TEXT NOT NULL,
			secret           TEXT NOT NULL DEFAULT '',
			events           TEXT NOT NULL,
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			failure_count    INTEGER NOT NULL DEFAULT 0,
			created_at       ` + ts + ` NOT NULL,
			last_delivery_at ` + ts + ` NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_company ON webhook_endpoints (company_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate webhook_endpoints: %w", err)
		}
	}
	return nil
}
