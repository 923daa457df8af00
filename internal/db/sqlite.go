// Package db opens the SQLite metastore and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// PoolMode selects how a metastore pool is sized and locked.
type PoolMode string

const (
	// PoolWrite is a single connection taking the write lock at BEGIN, so
	// writers queue in Go instead of failing with SQLITE_BUSY.
	PoolWrite PoolMode = "write"
	// PoolRead is a pool of connections for concurrent readers under WAL.
	PoolRead PoolMode = "read"
)

const (
	defaultReadConns = 4
	pingTimeout      = 5 * time.Second
)

// OpenSQLite opens one pool on the SQLite file at path. maxOpen only applies
// to PoolRead; zero means defaultReadConns.
func OpenSQLite(ctx context.Context, path string, mode PoolMode, maxOpen int) (*sql.DB, error) {
	conns := 1
	switch mode {
	case PoolWrite:
	case PoolRead:
		conns = maxOpen
		if conns <= 0 {
			conns = defaultReadConns
		}
	default:
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, PoolRead, PoolWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// OpenSQLitePair opens the write pool and a read pool of readMaxOpen
// connections on the same file.
func OpenSQLitePair(ctx context.Context, path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	if writeDB, err = OpenSQLite(ctx, path, PoolWrite, 0); err != nil {
		return nil, nil, err
	}
	if readDB, err = OpenSQLite(ctx, path, PoolRead, readMaxOpen); err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

// buildDSN sets WAL journaling, a 5s busy timeout, NORMAL sync and enforced
// foreign keys on every pool. Group membership cleanup relies on the latter.
func buildDSN(path string, mode PoolMode) string {
	q := url.Values{
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_synchronous":  {"NORMAL"},
		"_foreign_keys": {"on"},
	}
	if mode == PoolWrite {
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}

// OpenMetastore opens the write/read pool pair for the metastore and applies
// pending migrations through the write pool.
func OpenMetastore(ctx context.Context, path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, readDB, err = OpenSQLitePair(ctx, path, readMaxOpen)
	if err != nil {
		return nil, nil, err
	}
	if _, err := Migrate(ctx, writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, nil, fmt.Errorf("migrate metastore: %w", err)
	}
	return writeDB, readDB, nil
}
