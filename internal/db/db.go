package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Options controls durability and performance pragmas applied to every
// pooled connection.
type Options struct {
	BusyTimeout        time.Duration
	Synchronous        string // OFF, NORMAL, FULL or EXTRA
	CacheSizeKiB       int
	CheckpointInterval time.Duration
	MaxOpenConns       int
}

// DefaultOptions returns the options used when the config leaves them unset.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:        5 * time.Second,
		Synchronous:        "NORMAL",
		CacheSizeKiB:       16 * 1024,
		CheckpointInterval: 5 * time.Minute,
		MaxOpenConns:       8,
	}
}

// DB wraps a SQLite database connection pool and its checkpoint worker.
type DB struct {
	*sql.DB

	path string
	opts Options

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens a SQLite database at the given path, applies the base
// schema and starts the background checkpoint worker.
func Open(path string, opts Options) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrStorageUnavailable)
	}
	opts = opts.withDefaults()

	sqlDB, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("%w: open database %s: %w", ErrStorageUnavailable, path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: ping database %s: %w", ErrStorageUnavailable, path, err)
	}

	// Enable WAL mode for concurrent readers alongside the single writer.
	// NOTE: On some filesystems (notably Windows bind mounts under Docker Desktop),
	// changing journal modes can fail with "disk I/O error". In that case, we log
	// and continue with SQLite's default journaling rather than refusing to start.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("Warning: failed to enable WAL mode (%v); continuing without WAL", err)
	}

	db := &DB{
		DB:   sqlDB,
		path: path,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrStorageUnavailable, err)
	}

	go db.checkpointLoop(opts.CheckpointInterval)

	return db, nil
}

// Path returns the database path the pool was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close stops the checkpoint worker, runs one final blocking checkpoint and
// releases the pool. In-flight operations must have returned before Close is
// called; it does not cancel them.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		close(db.stop)
		<-db.done

		if _, err := db.Checkpoint(context.Background(), CheckpointTruncate); err != nil {
			log.Printf("Warning: final checkpoint failed: %v", err)
		}
		db.closeErr = db.DB.Close()
	})
	return db.closeErr
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = def.BusyTimeout
	}
	switch strings.ToUpper(strings.TrimSpace(o.Synchronous)) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
		o.Synchronous = strings.ToUpper(strings.TrimSpace(o.Synchronous))
	default:
		o.Synchronous = def.Synchronous
	}
	if o.CacheSizeKiB <= 0 {
		o.CacheSizeKiB = def.CacheSizeKiB
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = def.CheckpointInterval
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = def.MaxOpenConns
	}
	return o
}

// dsn builds a modernc connection string. Pragmas listed here run on every new
// pooled connection, and write transactions begin IMMEDIATE so the write lock
// is taken up front instead of on the first write statement.
func dsn(path string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", opts.Synchronous))
	// Negative cache_size is interpreted by SQLite as KiB.
	q.Add("_pragma", fmt.Sprintf("cache_size(-%d)", opts.CacheSizeKiB))
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}
