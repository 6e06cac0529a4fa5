package user

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/settings"
)

// AddXP adds amount to the user's xp and recomputes the level in one write
// transaction. Concurrent calls for the same user serialize on the database
// write lock, so no increment is lost.
func (r *Repo) AddXP(ctx context.Context, userID, tenantID string, amount int64) (*XPResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("xp amount must not be negative, got %d", amount)
	}
	if err := r.check(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "user.AddXP")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int64("xp.amount", amount),
	)

	var res XPResult
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := ensureGlobalUserTx(ctx, tx, userID, nil, now); err != nil {
			return err
		}
		if err := r.ensureTenantUserTx(ctx, tx, userID, tenantID, now); err != nil {
			return err
		}

		var xp int64
		var level int
		if err := tx.QueryRowContext(ctx,
			"SELECT xp, level FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
			tenantID, userID,
		).Scan(&xp, &level); err != nil {
			return fmt.Errorf("read xp: %w", err)
		}
		if xp > math.MaxInt64-amount {
			return fmt.Errorf("xp overflow for user %s", userID)
		}

		newXP := xp + amount
		newLevel := r.engine.LevelForXP(newXP)
		if _, err := tx.ExecContext(ctx, `
			UPDATE tenant_users SET xp = ?, level = ?, last_message_at = ?, updated_at = ?
			WHERE tenant_id = ? AND user_id = ?
		`, newXP, newLevel, db.Millis(now), db.Millis(now), tenantID, userID); err != nil {
			return fmt.Errorf("update xp: %w", err)
		}
		if amount > 0 {
			if _, err := settings.IncrementTx(ctx, tx, settings.StatXPAwarded, float64(amount)); err != nil {
				return fmt.Errorf("count xp: %w", err)
			}
		}

		res = XPResult{
			LeveledUp:     newLevel > level,
			OldLevel:      level,
			NewLevel:      newLevel,
			CurrentXP:     newXP,
			XPToNextLevel: r.engine.XPToNextLevel(newXP),
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("add xp to %s in %s: %w", userID, tenantID, err)
	}

	span.SetAttributes(attribute.Bool("xp.leveled_up", res.LeveledUp))
	return &res, nil
}
