package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/tenant"
)

var tracer = otel.Tracer("github.com/notepid/levelbot/internal/user")

// DefaultSacrificeTTL bounds how long a sacrifice request waits for its
// confirmation.
const DefaultSacrificeTTL = time.Minute

// Repo handles database operations for users.
type Repo struct {
	db      *db.DB
	tenants *tenant.Registry
	engine  *leveling.Engine

	sacrificeTTL time.Duration
	now          func() time.Time
}

// NewRepo creates a new user repository. A non-positive sacrificeTTL keeps
// pending sacrifices until they are confirmed or reset.
func NewRepo(database *db.DB, tenants *tenant.Registry, engine *leveling.Engine, sacrificeTTL time.Duration) *Repo {
	return &Repo{
		db:           database,
		tenants:      tenants,
		engine:       engine,
		sacrificeTTL: sacrificeTTL,
		now:          time.Now,
	}
}

// Engine returns the leveling curve the repository recomputes levels with.
func (r *Repo) Engine() *leveling.Engine {
	return r.engine
}

// EnsureTenantUser returns the user's record in tenantID, creating it (and
// the global identity) on first touch.
func (r *Repo) EnsureTenantUser(ctx context.Context, userID, tenantID string) (*TenantUser, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return nil, err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := ensureGlobalUserTx(ctx, tx, userID, nil, now); err != nil {
			return err
		}
		return r.ensureTenantUserTx(ctx, tx, userID, tenantID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("ensure user %s in %s: %w", userID, tenantID, err)
	}
	return r.tenantUser(ctx, r.db, userID, tenantID)
}

// EnsureGlobalUser returns the global identity, creating it on first touch.
// A non-nil displayName replaces the stored one when it differs.
func (r *Repo) EnsureGlobalUser(ctx context.Context, userID string, displayName *string) (*GlobalUser, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return ensureGlobalUserTx(ctx, tx, userID, displayName, r.now())
	})
	if err != nil {
		return nil, fmt.Errorf("ensure global user %s: %w", userID, err)
	}
	return r.GlobalUser(ctx, userID)
}

// Get returns the merged record of a user in a tenant.
func (r *Repo) Get(ctx context.Context, userID, tenantID string) (*Member, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return nil, err
	}
	tu, err := r.tenantUser(ctx, r.db, userID, tenantID)
	if err != nil {
		return nil, err
	}
	m := &Member{TenantUser: *tu}
	g, err := r.GlobalUser(ctx, userID)
	switch {
	case err == nil:
		m.Global = g
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}
	return m, nil
}

// GlobalUser returns the global identity of userID.
func (r *Repo) GlobalUser(ctx context.Context, userID string) (*GlobalUser, error) {
	g := &GlobalUser{}
	var displayName, blacklistedBy sql.NullString
	var blacklistedAt sql.NullInt64
	var firstSeen, lastUpdated int64

	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, first_seen, display_name, blacklisted, blacklist_reason,
		       blacklisted_at, blacklisted_by, last_updated
		FROM global_users WHERE user_id = ?
	`, userID).Scan(
		&g.UserID, &firstSeen, &displayName, &g.Blacklisted, &g.BlacklistReason,
		&blacklistedAt, &blacklistedBy, &lastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("get global user %s: %w", userID, db.Classify(err))
	}

	g.FirstSeen = db.FromMillis(firstSeen)
	g.LastUpdated = db.FromMillis(lastUpdated)
	g.DisplayName = stringPtr(displayName)
	g.BlacklistedAt = db.TimePtr(blacklistedAt)
	g.BlacklistedBy = stringPtr(blacklistedBy)
	return g, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const tenantUserColumns = `
	user_id, tenant_id, xp, level, last_message_at, sacrifices, sacrifice_pending,
	sacrifice_pending_until, is_blacklisted, warning_count, banner_url, avatar_url,
	created_at, updated_at`

func (r *Repo) tenantUser(ctx context.Context, q queryRower, userID, tenantID string) (*TenantUser, error) {
	u := &TenantUser{}
	var lastMessage, pendingUntil sql.NullInt64
	var banner, avatar sql.NullString
	var created, updated int64

	err := q.QueryRowContext(ctx,
		"SELECT "+tenantUserColumns+" FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(
		&u.UserID, &u.TenantID, &u.XP, &u.Level, &lastMessage, &u.Sacrifices, &u.SacrificePending,
		&pendingUntil, &u.IsBlacklisted, &u.WarningCount, &banner, &avatar,
		&created, &updated,
	)
	if err != nil {
		return nil, fmt.Errorf("get user %s in %s: %w", userID, tenantID, db.Classify(err))
	}

	u.LastMessageAt = db.TimePtr(lastMessage)
	u.SacrificePendingUntil = db.TimePtr(pendingUntil)
	u.BannerURL = stringPtr(banner)
	u.AvatarURL = stringPtr(avatar)
	u.CreatedAt = db.FromMillis(created)
	u.UpdatedAt = db.FromMillis(updated)

	// An expired request reads as not pending before it is lazily cleared.
	if u.SacrificePending && r.pendingExpired(u.SacrificePendingUntil) {
		u.SacrificePending = false
		u.SacrificePendingUntil = nil
	}
	return u, nil
}

func (r *Repo) ensureTenantUserTx(ctx context.Context, tx *sql.Tx, userID, tenantID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_users (tenant_id, user_id, xp, level, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO NOTHING
	`, tenantID, userID, r.engine.LevelForXP(0), db.Millis(now), db.Millis(now))
	if err != nil {
		return fmt.Errorf("insert tenant user: %w", err)
	}
	return nil
}

func ensureGlobalUserTx(ctx context.Context, tx *sql.Tx, userID string, displayName *string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO global_users (user_id, first_seen, display_name, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_updated = excluded.last_updated
		WHERE excluded.display_name IS NOT NULL
		  AND (global_users.display_name IS NULL OR global_users.display_name <> excluded.display_name)
	`, userID, db.Millis(now), nullString(displayName), db.Millis(now))
	if err != nil {
		return fmt.Errorf("upsert global user: %w", err)
	}
	return nil
}

func (r *Repo) check(ctx context.Context, userID, tenantID string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	return r.tenants.Require(ctx, tenantID)
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

func (r *Repo) pendingExpired(until *time.Time) bool {
	return until != nil && !r.now().Before(*until)
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
