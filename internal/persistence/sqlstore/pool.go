// Package sqlstore is a relational EventStore/SnapshotStore driver over
// database/sql, parameterized by driver name so the same code serves
// Postgres (via lib/pq or pgx's stdlib adapter) or SQLite (via
// mattn/go-sqlite3). The pool wrapper is adapted from the teacher's
// HikariCP-style connection pool: fail-fast config validation, a ping on
// open to surface bad DSNs immediately instead of on first query.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver name "pgx"
	_ "github.com/lib/pq"              // driver name "postgres"
	_ "github.com/mattn/go-sqlite3"    // driver name "sqlite3"

	"github.com/fluxorio/flowmesh/internal/types"
)

// PoolConfig configures the underlying *sql.DB.
type PoolConfig struct {
	DSN             string
	DriverName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sane pool limits for a given dsn/driver pair.
func DefaultPoolConfig(dsn, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool wraps a *sql.DB opened and fail-fast validated per PoolConfig.
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// Open validates config, opens the pool, and pings it with a bounded
// timeout so configuration mistakes surface immediately instead of on
// the first real query.
func Open(config PoolConfig) (*Pool, error) {
	if config.DSN == "" {
		return nil, types.New(types.ErrPersistence, "sqlstore: DSN cannot be empty")
	}
	if config.DriverName == "" {
		return nil, types.New(types.ErrPersistence, "sqlstore: DriverName cannot be empty")
	}
	if config.MaxOpenConns <= 0 {
		return nil, types.New(types.ErrPersistence, "sqlstore: MaxOpenConns must be positive")
	}
	if config.MaxIdleConns < 0 || config.MaxIdleConns > config.MaxOpenConns {
		return nil, types.New(types.ErrPersistence, "sqlstore: MaxIdleConns out of range")
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, types.Wrap(types.ErrPersistence, "sqlstore: open failed", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.Wrap(types.ErrPersistence, "sqlstore: ping failed", err)
	}

	return &Pool{db: db, config: config}, nil
}

// DB returns the underlying *sql.DB. Panics if the pool was not
// constructed via Open, matching the teacher's fail-fast-on-misuse
// convention for infrastructure handles.
func (p *Pool) DB() *sql.DB {
	if p == nil || p.db == nil {
		panic("sqlstore: pool not initialized")
	}
	return p.db
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
