// Package store assembles the leveling data store: one database, the tenant
// registry and the repositories layered on it. It is the surface the chat
// event layer talks to.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/notepid/levelbot/internal/config"
	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/legacy"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/settings"
	"github.com/notepid/levelbot/internal/tenant"
	"github.com/notepid/levelbot/internal/user"
)

// Store owns the database handle and every repository built on it. It is
// safe for concurrent use. Its methods provision the tenant before touching
// tenant data; the repositories themselves only require it.
type Store struct {
	DB       *db.DB
	Tenants  *tenant.Registry
	Users    *user.Repo
	Settings *settings.Repo
	Stats    *settings.StatsRepo
	Engine   *leveling.Engine
}

// Open opens the database, applies the schema and runs the one-shot legacy
// migration. A failed migration is logged and the store opens unmigrated.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	engine, err := leveling.New(cfg.Leveling)
	if err != nil {
		return nil, fmt.Errorf("build leveling engine: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create data directory: %w", db.ErrStorageUnavailable, err)
		}
	}

	database, err := db.Open(cfg.Database.Path, cfg.Database.Options())
	if err != nil {
		return nil, err
	}
	log.Printf("Database opened: %s", cfg.Database.Path)

	s := New(database, engine, cfg.Sacrifice.PendingTTL)

	outcome, err := legacy.NewMigrator(database, engine).Run(ctx)
	if err != nil {
		log.Printf("Legacy migration failed, continuing unmigrated: %v", err)
	} else if outcome != legacy.NotDetected {
		log.Printf("Legacy migration: %s", outcome)
	}
	return s, nil
}

// New assembles a store around an already opened database.
func New(database *db.DB, engine *leveling.Engine, sacrificeTTL time.Duration) *Store {
	tenants := tenant.NewRegistry(database)
	return &Store{
		DB:       database,
		Tenants:  tenants,
		Users:    user.NewRepo(database, tenants, engine, sacrificeTTL),
		Settings: settings.NewRepo(database, tenants),
		Stats:    settings.NewStatsRepo(database),
		Engine:   engine,
	}
}

// Close runs the final checkpoint and releases the database. Callers must
// let in-flight operations finish first.
func (s *Store) Close() error {
	return s.DB.Close()
}

// EnsureTenant provisions tenantID on first use.
func (s *Store) EnsureTenant(ctx context.Context, tenantID string) error {
	return s.Tenants.EnsureTenant(ctx, tenantID)
}

// EnsureUser provisions the tenant and returns the member, creating it on
// first touch.
func (s *Store) EnsureUser(ctx context.Context, userID, tenantID string) (*user.Member, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.Users.EnsureTenantUser(ctx, userID, tenantID); err != nil {
		return nil, err
	}
	return s.Users.Get(ctx, userID, tenantID)
}

// GetUser returns the member or an error wrapping db.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID, tenantID string) (*user.Member, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.Users.Get(ctx, userID, tenantID)
}

// AddXP awards amount to the member, provisioning the tenant when needed.
func (s *Store) AddXP(ctx context.Context, userID, tenantID string, amount int64) (*user.XPResult, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.Users.AddXP(ctx, userID, tenantID, amount)
}

// Rank returns the member's 1-based position in the tenant.
func (s *Store) Rank(ctx context.Context, userID, tenantID string) (int, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return 0, err
	}
	return s.Users.Rank(ctx, userID, tenantID)
}

// Leaderboard returns one page of the tenant ranking.
func (s *Store) Leaderboard(ctx context.Context, tenantID string, page, pageSize int) (*user.LeaderboardPage, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.Users.Leaderboard(ctx, tenantID, page, pageSize)
}

// GetSetting returns the decoded setting or def.
func (s *Store) GetSetting(ctx context.Context, tenantID, key string, def any) (any, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return def, err
	}
	return s.Settings.Get(ctx, tenantID, key, def)
}

// SetSetting stores value under key.
func (s *Store) SetSetting(ctx context.Context, tenantID, key string, value any) (settings.Value, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return settings.Value{}, err
	}
	return s.Settings.Set(ctx, tenantID, key, value)
}

// AllSettings returns every setting of the tenant, decoded.
func (s *Store) AllSettings(ctx context.Context, tenantID string) (map[string]any, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return map[string]any{}, err
	}
	return s.Settings.All(ctx, tenantID)
}

// DeleteSetting removes key and reports whether it existed.
func (s *Store) DeleteSetting(ctx context.Context, tenantID, key string) (bool, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return false, err
	}
	return s.Settings.Delete(ctx, tenantID, key)
}

// Sacrifice advances the member's sacrifice request.
func (s *Store) Sacrifice(ctx context.Context, userID, tenantID string) (*user.SacrificeResult, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.Users.Sacrifice(ctx, userID, tenantID)
}

// IsEligibleForSacrifice reports whether the member is at the top of the
// curve.
func (s *Store) IsEligibleForSacrifice(ctx context.Context, userID, tenantID string) (bool, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return false, err
	}
	return s.Users.Eligible(ctx, userID, tenantID)
}

// ResetSacrificePending cancels an outstanding sacrifice request.
func (s *Store) ResetSacrificePending(ctx context.Context, userID, tenantID string) error {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return err
	}
	return s.Users.ResetSacrificePending(ctx, userID, tenantID)
}

// Banner returns the member's banner URL, "" when unset.
func (s *Store) Banner(ctx context.Context, userID, tenantID string) (string, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return "", err
	}
	return s.Users.Banner(ctx, userID, tenantID)
}

// SetBanner stores the member's banner URL.
func (s *Store) SetBanner(ctx context.Context, userID, tenantID, url string) error {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return err
	}
	return s.Users.SetBanner(ctx, userID, tenantID, url)
}

// Avatar returns the member's avatar URL, "" when unset.
func (s *Store) Avatar(ctx context.Context, userID, tenantID string) (string, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return "", err
	}
	return s.Users.Avatar(ctx, userID, tenantID)
}

// SetAvatar stores the member's avatar URL.
func (s *Store) SetAvatar(ctx context.Context, userID, tenantID, url string) error {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return err
	}
	return s.Users.SetAvatar(ctx, userID, tenantID, url)
}

// IsBlacklisted reports whether the member is blocked here or globally.
func (s *Store) IsBlacklisted(ctx context.Context, userID, tenantID string) (bool, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return false, err
	}
	return s.Users.IsBlacklisted(ctx, userID, tenantID)
}

// AddWarning records a warning and returns the member's new count.
func (s *Store) AddWarning(ctx context.Context, userID, tenantID string) (int, error) {
	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return 0, err
	}
	return s.Users.AddWarning(ctx, userID, tenantID)
}
