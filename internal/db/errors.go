package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors shared by every repository on top of the store.
var (
	// ErrSchemaNotReady means the tenant namespace was not provisioned before use.
	ErrSchemaNotReady = errors.New("levelbot: tenant schema not ready")
	// ErrInvalidTenantID means a tenant id failed format validation.
	ErrInvalidTenantID = errors.New("levelbot: invalid tenant id")
	// ErrStorageUnavailable means the backing database is unreachable or corrupt.
	ErrStorageUnavailable = errors.New("levelbot: storage unavailable")
	// ErrConflictRetryable means a write lost a lock race; the caller may retry.
	ErrConflictRetryable = errors.New("levelbot: conflict, retry")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("levelbot: not found")
)

// Classify maps driver errors onto the sentinel taxonomy. Errors that already
// carry a sentinel, and errors with no mapping, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if hasSentinel(err) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	code := sqliteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", ErrConflictRetryable, err)
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(sqliteErr.Error(), "FOREIGN KEY") {
			return fmt.Errorf("%w: %w", ErrSchemaNotReady, err)
		}
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CANTOPEN,
		sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

// IsRetryable reports whether the operation may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetryable)
}

// IsContractViolation reports errors caused by the caller skipping a required
// step or passing a malformed identifier. These are never defaulted away.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrSchemaNotReady) || errors.Is(err, ErrInvalidTenantID)
}

func hasSentinel(err error) bool {
	return errors.Is(err, ErrSchemaNotReady) ||
		errors.Is(err, ErrInvalidTenantID) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrConflictRetryable) ||
		errors.Is(err, ErrNotFound)
}

func isBusy(err error) bool {
	if errors.Is(err, ErrConflictRetryable) {
		return true
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
