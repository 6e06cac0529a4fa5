package user

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/settings"
)

// SacrificeOutcome is the reply to a sacrifice request.
type SacrificeOutcome int

const (
	// SacrificeNotEligible: the user is below max level. Nothing changed.
	SacrificeNotEligible SacrificeOutcome = iota
	// SacrificeNeedsConfirmation: the request is pending; call again to confirm.
	SacrificeNeedsConfirmation
	// SacrificeCompleted: progress was reset and the sacrifice counted.
	SacrificeCompleted
)

func (o SacrificeOutcome) String() string {
	switch o {
	case SacrificeNotEligible:
		return "not_eligible"
	case SacrificeNeedsConfirmation:
		return "needs_confirmation"
	case SacrificeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("SacrificeOutcome(%d)", int(o))
	}
}

// SacrificeResult describes the state after a sacrifice request.
type SacrificeResult struct {
	Outcome      SacrificeOutcome
	Sacrifices   int
	Level        int
	XP           int64
	PendingUntil *time.Time
}

// Sacrifice advances the two-phase reset. The first request from an eligible
// user only marks it pending; a second request before expiry resets the user
// to the start of level 1 and counts the sacrifice.
func (r *Repo) Sacrifice(ctx context.Context, userID, tenantID string) (*SacrificeResult, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "user.Sacrifice")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	var res SacrificeResult
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := r.ensureTenantUserTx(ctx, tx, userID, tenantID, now); err != nil {
			return err
		}

		var xp int64
		var level, sacrifices int
		var flag bool
		var until sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT xp, level, sacrifices, sacrifice_pending, sacrifice_pending_until
			FROM tenant_users WHERE tenant_id = ? AND user_id = ?
		`, tenantID, userID).Scan(&xp, &level, &sacrifices, &flag, &until); err != nil {
			return fmt.Errorf("read sacrifice state: %w", err)
		}
		res = SacrificeResult{Sacrifices: sacrifices, Level: level, XP: xp}

		if !r.eligible(level, xp) {
			res.Outcome = SacrificeNotEligible
			if flag {
				return r.clearPendingTx(ctx, tx, userID, tenantID, now)
			}
			return nil
		}

		pending := flag && !r.pendingExpired(db.TimePtr(until))
		if !pending {
			var expires sql.NullInt64
			if r.sacrificeTTL > 0 {
				t := now.Add(r.sacrificeTTL)
				expires = db.NullMillis(&t)
				res.PendingUntil = db.TimePtr(expires)
			}
			res.Outcome = SacrificeNeedsConfirmation
			_, err := tx.ExecContext(ctx, `
				UPDATE tenant_users SET sacrifice_pending = 1, sacrifice_pending_until = ?, updated_at = ?
				WHERE tenant_id = ? AND user_id = ?
			`, expires, db.Millis(now), tenantID, userID)
			return err
		}

		resetXP := r.engine.XPForLevel(1)
		resetLevel := r.engine.LevelForXP(resetXP)
		if _, err := tx.ExecContext(ctx, `
			UPDATE tenant_users
			SET xp = ?, level = ?, sacrifices = sacrifices + 1,
			    sacrifice_pending = 0, sacrifice_pending_until = NULL, updated_at = ?
			WHERE tenant_id = ? AND user_id = ?
		`, resetXP, resetLevel, db.Millis(now), tenantID, userID); err != nil {
			return err
		}
		if _, err := settings.IncrementTx(ctx, tx, settings.StatSacrificesCompleted, 1); err != nil {
			return err
		}
		res = SacrificeResult{
			Outcome:    SacrificeCompleted,
			Sacrifices: sacrifices + 1,
			Level:      resetLevel,
			XP:         resetXP,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sacrifice %s in %s: %w", userID, tenantID, err)
	}
	span.SetAttributes(attribute.String("sacrifice.outcome", res.Outcome.String()))
	return &res, nil
}

// Eligible reports whether userID could sacrifice now. Unknown users are not
// eligible.
func (r *Repo) Eligible(ctx context.Context, userID, tenantID string) (bool, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return false, err
	}
	var xp int64
	var level int
	err := r.db.QueryRowContext(ctx,
		"SELECT xp, level FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(&xp, &level)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read eligibility %s in %s: %w", userID, tenantID, db.Classify(err))
	}
	return r.eligible(level, xp), nil
}

// ResetSacrificePending cancels an outstanding request, for callers that
// time out the confirmation themselves.
func (r *Repo) ResetSacrificePending(ctx context.Context, userID, tenantID string) error {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return r.clearPendingTx(ctx, tx, userID, tenantID, r.now())
	})
	if err != nil {
		return fmt.Errorf("reset sacrifice %s in %s: %w", userID, tenantID, err)
	}
	return nil
}

func (r *Repo) eligible(level int, xp int64) bool {
	max := r.engine.MaxLevel()
	return level == max && xp >= r.engine.XPForLevel(max)
}

func (r *Repo) clearPendingTx(ctx context.Context, tx *sql.Tx, userID, tenantID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tenant_users SET sacrifice_pending = 0, sacrifice_pending_until = NULL, updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND sacrifice_pending = 1
	`, db.Millis(now), tenantID, userID)
	return err
}
