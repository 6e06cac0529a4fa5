package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/notepid/levelbot/internal/db"
)

type mediaColumn string

const (
	bannerColumn mediaColumn = "banner_url"
	avatarColumn mediaColumn = "avatar_url"
)

// Banner returns the custom rank-card banner URL, or "" when none is set or
// it cannot be read.
func (r *Repo) Banner(ctx context.Context, userID, tenantID string) (string, error) {
	return r.media(ctx, bannerColumn, userID, tenantID)
}

// SetBanner stores a banner URL; an empty url clears it.
func (r *Repo) SetBanner(ctx context.Context, userID, tenantID, url string) error {
	return r.setMedia(ctx, bannerColumn, userID, tenantID, url)
}

// Avatar returns the custom avatar URL, or "" when none is set or it cannot
// be read.
func (r *Repo) Avatar(ctx context.Context, userID, tenantID string) (string, error) {
	return r.media(ctx, avatarColumn, userID, tenantID)
}

// SetAvatar stores an avatar URL; an empty url clears it.
func (r *Repo) SetAvatar(ctx context.Context, userID, tenantID, url string) error {
	return r.setMedia(ctx, avatarColumn, userID, tenantID, url)
}

func (r *Repo) media(ctx context.Context, col mediaColumn, userID, tenantID string) (string, error) {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return "", err
	}
	var url sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT "+string(col)+" FROM tenant_users WHERE tenant_id = ? AND user_id = ?",
		tenantID, userID,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		log.Printf("Warning: read %s for %s in %s: %v", col, userID, tenantID, db.Classify(err))
		return "", nil
	}
	return url.String, nil
}

func (r *Repo) setMedia(ctx context.Context, col mediaColumn, userID, tenantID, url string) error {
	if err := r.check(ctx, userID, tenantID); err != nil {
		return err
	}
	value := sql.NullString{String: strings.TrimSpace(url), Valid: strings.TrimSpace(url) != ""}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		if err := r.ensureTenantUserTx(ctx, tx, userID, tenantID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE tenant_users SET "+string(col)+" = ?, updated_at = ? WHERE tenant_id = ? AND user_id = ?",
			value, db.Millis(now), tenantID, userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("set %s for %s in %s: %w", col, userID, tenantID, err)
	}
	return nil
}
