package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const maxTxAttempts = 4

// WithTx runs fn inside one transaction and commits when fn returns nil.
// Busy and locked failures roll back and retry a few times before surfacing
// ErrConflictRetryable, so fn must not leak state between attempts.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return Classify(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	if IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConflictRetryable, err)
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Millis converts a time to unix milliseconds in UTC.
func Millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts an optional time to a nullable column value.
func NullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: Millis(*t), Valid: true}
}

// TimePtr converts a nullable millis column to an optional time.
func TimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}
