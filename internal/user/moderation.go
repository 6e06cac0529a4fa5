package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notepid/levelbot/internal/db"
)

// SetGlobalBlacklist blacklists userID across every tenant.
func (r *Repo) SetGlobalBlacklist(ctx context.Context, userID, reason, by string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := ensureGlobalUserTx(ctx, tx, userID, nil, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE global_users
			SET blacklisted = 1, blacklist_reason = ?, blacklisted_at = ?, blacklisted_by = ?, last_updated = ?
			WHERE user_id = ?
		`, reason, db.Millis(now), by, db.Millis(now), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", userID, err)
	}
	return nil
}

// ClearGlobalBlacklist lifts a global blacklist.
func (r *Repo) ClearGlobalBlacklist(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE global_users
		SET blacklisted = 0, blacklist_reason = '', blacklisted_at = NULL, blacklisted_by = NULL, last_updated = ?
		WHERE user_id = ?
	`, db.Millis(r.now()), userID)
	if err != nil {
		return fmt.Errorf("clear blacklist %s: %w", userID, db.Classify(err))
	}
	return nil
}

// IsGloballyBlacklisted reports the global flag. Unknown users are not
// blacklisted.
func (r *Repo) IsGloballyBlacklisted(ctx context.Context, userID string) (bool, error) {
	var blacklisted bool
	err := r.db.QueryRowContext(ctx, "SELECT blacklisted FROM global_users WHERE user_id = ?", userID).Scan(&blacklisted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read blacklist %s: %w", userID, db.Classify(err))
	}
	return blacklisted, nil
}

// SetTenantBlacklist sets the tenant-scoped blacklist flag.
func (r *Repo) SetTenantBlacklist(ctx context.Context, userID, tenantID string, blacklisted bool) error {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := r.ensureTenantUserTx(ctx, tx, userID, tenantID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE tenant_users SET is_blacklisted = ?, updated_at = ? WHERE tenant_id = ? AND user_id = ?",
			blacklisted, db.Millis(now), tenantID, userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("set blacklist %s in %s: %w", userID, tenantID, err)
	}
	return nil
}

// IsBlacklisted reports whether userID is blocked in tenantID. A global
// blacklist wins without looking at the tenant.
func (r *Repo) IsBlacklisted(ctx context.Context, userID, tenantID string) (bool, error) {
	global, err := r.IsGloballyBlacklisted(ctx, userID)
	if err != nil || global {
		return global, err
	}
	if err := r.check(ctx, userID, tenantID); err != nil {
		return false, err
	}

	var blacklisted bool
	err = r.db.QueryRowContext(ctx,
		"SELECT is_blacklisted FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(&blacklisted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read blacklist %s in %s: %w", userID, tenantID, db.Classify(err))
	}
	return blacklisted, nil
}

// AddWarning increments the warning count and returns the new total.
func (r *Repo) AddWarning(ctx context.Context, userID, tenantID string) (int, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return 0, err
	}
	var count int
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := r.ensureTenantUserTx(ctx, tx, userID, tenantID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tenant_users SET warning_count = warning_count + 1, updated_at = ? WHERE tenant_id = ? AND user_id = ?",
			db.Millis(now), tenantID, userID,
		); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			"SELECT warning_count FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
			tenantID, userID,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("warn %s in %s: %w", userID, tenantID, err)
	}
	return count, nil
}

// Warnings returns the warning count, zero for unknown users.
func (r *Repo) Warnings(ctx context.Context, userID, tenantID string) (int, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return 0, err
	}
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT warning_count FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read warnings %s in %s: %w", userID, tenantID, db.Classify(err))
	}
	return count, nil
}

// ResetWarnings clears the warning count.
func (r *Repo) ResetWarnings(ctx context.Context, userID, tenantID string) error {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE tenant_users SET warning_count = 0, updated_at = ? WHERE tenant_id = ? AND user_id = ?",
		db.Millis(r.now()), tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("reset warnings %s in %s: %w", userID, tenantID, db.Classify(err))
	}
	return nil
}
