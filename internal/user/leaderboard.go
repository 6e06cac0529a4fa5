package user

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notepid/levelbot/internal/db"
)

// DefaultPageSize is used when a leaderboard request asks for no rows.
const DefaultPageSize = 10

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Position    int
	UserID      string
	DisplayName string
	XP          int64
	Level       int
	Sacrifices  int
}

// LeaderboardPage is one page of a tenant leaderboard.
type LeaderboardPage struct {
	Entries     []LeaderboardEntry
	CurrentPage int
	PageSize    int
	TotalPages  int
	TotalUsers  int
}

// Leaderboard returns page of the tenant ordered by xp, highest first. Pages
// outside [1, TotalPages] come back empty rather than failing.
func (r *Repo) Leaderboard(ctx context.Context, tenantID string, page, pageSize int) (*LeaderboardPage, error) {
	if err := r.tenants.Require(ctx, tenantID); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	ctx, span := tracer.Start(ctx, "user.Leaderboard")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int("page", page))

	out := &LeaderboardPage{CurrentPage: page, PageSize: pageSize, Entries: []LeaderboardEntry{}}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tenant_users WHERE tenant_id = ?", tenantID,
	).Scan(&out.TotalUsers); err != nil {
		return nil, fmt.Errorf("count users in %s: %w", tenantID, db.Classify(err))
	}
	out.TotalPages = (out.TotalUsers + pageSize - 1) / pageSize
	if page < 1 || page > out.TotalPages {
		return out, nil
	}

	offset := (page - 1) * pageSize
	rows, err := r.db.QueryContext(ctx, `
		SELECT tu.user_id, COALESCE(g.display_name, ''), tu.xp, tu.level, tu.sacrifices
		FROM tenant_users tu
		LEFT JOIN global_users g ON g.user_id = tu.user_id
		WHERE tu.tenant_id = ?
		ORDER BY tu.xp DESC, tu.user_id ASC
		LIMIT ? OFFSET ?
	`, tenantID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", tenantID, db.Classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		e := LeaderboardEntry{Position: offset + len(out.Entries) + 1}
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.XP, &e.Level, &e.Sacrifices); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		if e.DisplayName == "" {
			e.DisplayName = e.UserID
		}
		out.Entries = append(out.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", tenantID, db.Classify(err))
	}
	return out, nil
}

// Rank returns 1 + the number of users in the tenant with strictly more xp.
// Users tied on xp share a rank.
func (r *Repo) Rank(ctx context.Context, userID, tenantID string) (int, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return 0, err
	}
	var rank int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 + (
			SELECT COUNT(*) FROM tenant_users o
			WHERE o.tenant_id = u.tenant_id AND o.xp > u.xp
		)
		FROM tenant_users u
		WHERE u.tenant_id = ? AND u.user_id = ?
	`, tenantID, userID).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("rank %s in %s: %w", userID, tenantID, db.Classify(err))
	}
	return rank, nil
}
