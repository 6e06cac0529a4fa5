package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notepid/levelbot/internal/db"
)

// Statistic keys written by the store itself.
const (
	StatXPAwarded           = "xp_awarded"
	StatSacrificesCompleted = "sacrifices_completed"
	StatLegacyUsers         = "legacy_users_migrated"
	StatLegacySettings      = "legacy_settings_migrated"
)

// Statistic is one process-wide counter or value.
type Statistic struct {
	Key       string
	Value     Value
	UpdatedAt time.Time
}

// StatsRepo handles process-wide statistics.
type StatsRepo struct {
	db *db.DB
}

// NewStatsRepo creates a new statistics repository.
func NewStatsRepo(database *db.DB) *StatsRepo {
	return &StatsRepo{db: database}
}

// Get returns the decoded statistic, or def when it is missing or unreadable.
func (r *StatsRepo) Get(ctx context.Context, key string, def any) any {
	var raw, kind string
	err := r.db.QueryRowContext(ctx, "SELECT value, value_kind FROM statistics WHERE key = ?", key).Scan(&raw, &kind)
	if err != nil {
		return def
	}
	return Decode(Kind(kind), raw).Interface()
}

// Set upserts a statistic.
func (r *StatsRepo) Set(ctx context.Context, key string, v any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("statistic key is required")
	}
	val, err := FromAny(v)
	if err != nil {
		return fmt.Errorf("set statistic %s: %w", key, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO statistics (key, value, value_kind, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			value_kind = excluded.value_kind,
			updated_at = excluded.updated_at
	`, key, val.raw, string(val.kind), db.Millis(time.Now()))
	if err != nil {
		return fmt.Errorf("set statistic %s: %w", key, db.Classify(err))
	}
	return nil
}

// Increment adds delta to a numeric statistic and returns the new total.
func (r *StatsRepo) Increment(ctx context.Context, key string, delta float64) (float64, error) {
	var total float64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		total, err = IncrementTx(ctx, tx, key, delta)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("increment statistic %s: %w", key, err)
	}
	return total, nil
}

// All returns every statistic ordered by key.
func (r *StatsRepo) All(ctx context.Context) ([]Statistic, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value, value_kind, updated_at FROM statistics ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list statistics: %w", db.Classify(err))
	}
	defer rows.Close()

	var stats []Statistic
	for rows.Next() {
		var s Statistic
		var raw, kind string
		var updated int64
		if err := rows.Scan(&s.Key, &raw, &kind, &updated); err != nil {
			return nil, fmt.Errorf("scan statistic: %w", err)
		}
		s.Value = Decode(Kind(kind), raw)
		s.UpdatedAt = db.FromMillis(updated)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// IncrementTx adds delta to a numeric statistic inside a caller's
// transaction. A non-numeric existing value is replaced.
func IncrementTx(ctx context.Context, tx *sql.Tx, key string, delta float64) (float64, error) {
	var raw, kind string
	err := tx.QueryRowContext(ctx, "SELECT value, value_kind FROM statistics WHERE key = ?", key).Scan(&raw, &kind)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	current, _ := Decode(Kind(kind), raw).Number()
	next := Number(current + delta)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO statistics (key, value, value_kind, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			value_kind = excluded.value_kind,
			updated_at = excluded.updated_at
	`, key, next.raw, string(next.kind), db.Millis(time.Now()))
	if err != nil {
		return 0, err
	}
	total, _ := next.Number()
	return total, nil
}
