// Package legacy upgrades databases written by the first, single-table
// version of the bot into the tenant-partitioned schema.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/settings"
	"github.com/notepid/levelbot/internal/tenant"
)

// MarkerV1Users is written to legacy_migrations once the v1 users table has
// been copied.
const MarkerV1Users = "v1_users"

// Outcome reports what Run did.
type Outcome int

const (
	NotDetected Outcome = iota
	AlreadyComplete
	Migrated
)

func (o Outcome) String() string {
	switch o {
	case NotDetected:
		return "not detected"
	case AlreadyComplete:
		return "already complete"
	case Migrated:
		return "migrated"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Report summarizes a completed migration.
type Report struct {
	Users    int
	Tenants  int
	Settings int
	Skipped  int
}

var tracer = otel.Tracer("github.com/notepid/levelbot/internal/legacy")

var errMarkerPresent = errors.New("marker already present")

// Guild-scoped settings keys of v1: "<guild>_<name>", "<guild>:<name>" and
// "guild_<guild>_<name>". Guild ids were numeric snowflakes.
var settingKeyPattern = regexp.MustCompile(`^(?:guild_)?(\d+)[_:](.+)$`)

// v1 columns copied when present; anything else in the table is ignored.
// fallback stands in for a column the table does not have.
var optionalColumns = []struct {
	name     string
	fallback string
	integer  bool
}{
	{"xp", "0", true},
	{"sacrifices", "0", true},
	{"banner_url", "NULL", false},
	{"avatar_url", "NULL", false},
	{"is_blacklisted", "0", true},
	{"warning_count", "0", true},
	{"username", "NULL", false},
}

// Migrator copies v1 data once.
type Migrator struct {
	db     *db.DB
	engine *leveling.Engine
	now    func() time.Time

	// Last holds the counts of the most recent migration.
	Last Report
}

// NewMigrator creates a migrator that recomputes levels with engine.
func NewMigrator(database *db.DB, engine *leveling.Engine) *Migrator {
	return &Migrator{db: database, engine: engine, now: time.Now}
}

// Run migrates the v1 users and settings tables when they exist and the
// marker is unset. On failure nothing is written and the next Run retries
// from scratch.
func (m *Migrator) Run(ctx context.Context) (Outcome, error) {
	done, err := m.markerSet(ctx, m.db)
	if err != nil {
		return NotDetected, fmt.Errorf("read migration marker: %w", db.Classify(err))
	}
	if done {
		return AlreadyComplete, nil
	}

	userCols, err := tableColumns(ctx, m.db, "users")
	if err != nil {
		return NotDetected, fmt.Errorf("inspect users table: %w", db.Classify(err))
	}
	if !userCols["guild_id"] {
		return NotDetected, nil
	}
	settingCols, err := tableColumns(ctx, m.db, "settings")
	if err != nil {
		return NotDetected, fmt.Errorf("inspect settings table: %w", db.Classify(err))
	}
	withSettings := settingCols["key"] && settingCols["value"]

	ctx, span := tracer.Start(ctx, "legacy.Run")
	defer span.End()

	log.Printf("Legacy v1 schema detected, migrating")
	var report Report
	err = m.db.WithTx(ctx, func(tx *sql.Tx) error {
		report = Report{}
		if done, err := m.markerSet(ctx, tx); err != nil {
			return err
		} else if done {
			return errMarkerPresent
		}
		if err := m.migrateUsers(ctx, tx, userCols, &report); err != nil {
			return err
		}
		if withSettings {
			if err := m.migrateSettings(ctx, tx, &report); err != nil {
				return err
			}
		}
		if _, err := settings.IncrementTx(ctx, tx, settings.StatLegacyUsers, float64(report.Users)); err != nil {
			return err
		}
		if _, err := settings.IncrementTx(ctx, tx, settings.StatLegacySettings, float64(report.Settings)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO legacy_migrations (name, completed_at) VALUES (?, ?)",
			MarkerV1Users, db.Millis(m.now()),
		)
		return err
	})
	if errors.Is(err, errMarkerPresent) {
		return AlreadyComplete, nil
	}
	if err != nil {
		span.RecordError(err)
		return NotDetected, fmt.Errorf("migrate legacy v1 data: %w", err)
	}

	span.SetAttributes(
		attribute.Int("legacy.users", report.Users),
		attribute.Int("legacy.settings", report.Settings),
	)
	m.Last = report
	log.Printf("Legacy migration complete: %d users in %d tenants, %d settings, %d rows skipped",
		report.Users, report.Tenants, report.Settings, report.Skipped)
	return Migrated, nil
}

type legacyUser struct {
	userID      string
	guildID     string
	xp          int64
	sacrifices  int
	banner      sql.NullString
	avatar      sql.NullString
	blacklisted bool
	warnings    int
	name        sql.NullString
}

type memberKey struct{ guild, user string }

func (m *Migrator) migrateUsers(ctx context.Context, tx *sql.Tx, cols map[string]bool, report *Report) error {
	exprs := []string{"COALESCE(CAST(user_id AS TEXT), '')", "COALESCE(CAST(guild_id AS TEXT), '')"}
	for _, c := range optionalColumns {
		switch {
		case !cols[c.name]:
			exprs = append(exprs, c.fallback)
		case c.integer:
			exprs = append(exprs, "CAST(COALESCE("+c.name+", "+c.fallback+") AS INTEGER)")
		default:
			exprs = append(exprs, c.name)
		}
	}

	rows, err := tx.QueryContext(ctx, "SELECT "+strings.Join(exprs, ", ")+" FROM users")
	if err != nil {
		return fmt.Errorf("read v1 users: %w", err)
	}
	var legacy []legacyUser
	for rows.Next() {
		var u legacyUser
		if err := rows.Scan(&u.userID, &u.guildID, &u.xp, &u.sacrifices, &u.banner, &u.avatar,
			&u.blacklisted, &u.warnings, &u.name); err != nil {
			rows.Close()
			return fmt.Errorf("scan v1 user: %w", err)
		}
		legacy = append(legacy, u)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// The v1 table had no unique constraint, so one member can appear more
	// than once. Keep the highest progress of each.
	members := make(map[memberKey]*legacyUser)
	var order []memberKey
	names := make(map[string]sql.NullString)
	for i := range legacy {
		u := &legacy[i]
		if strings.TrimSpace(u.userID) == "" || tenant.ValidateID(u.guildID) != nil {
			report.Skipped++
			continue
		}
		if u.xp < 0 {
			u.xp = 0
		}
		u.name.Valid = u.name.Valid && strings.TrimSpace(u.name.String) != ""
		if n, ok := names[u.userID]; !ok || !n.Valid {
			names[u.userID] = u.name
		}

		k := memberKey{u.guildID, u.userID}
		cur, ok := members[k]
		if !ok {
			members[k] = u
			order = append(order, k)
			continue
		}
		if u.xp > cur.xp {
			cur.xp = u.xp
		}
		if u.sacrifices > cur.sacrifices {
			cur.sacrifices = u.sacrifices
		}
		if u.warnings > cur.warnings {
			cur.warnings = u.warnings
		}
		cur.blacklisted = cur.blacklisted || u.blacklisted
		if !cur.banner.Valid {
			cur.banner = u.banner
		}
		if !cur.avatar.Valid {
			cur.avatar = u.avatar
		}
	}

	now := db.Millis(m.now())
	for userID, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_users (user_id, first_seen, display_name, last_updated)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				display_name = COALESCE(global_users.display_name, excluded.display_name)
		`, userID, now, name, now); err != nil {
			return fmt.Errorf("copy global user %s: %w", userID, err)
		}
	}

	tenants := make(map[string]bool)
	for _, k := range order {
		u := members[k]
		if !tenants[k.guild] {
			if err := tenant.ProvisionTx(ctx, tx, k.guild); err != nil {
				return err
			}
			tenants[k.guild] = true
		}

		// A member may already exist when the bot ran unmigrated for a while.
		var existing int64
		err := tx.QueryRowContext(ctx,
			"SELECT xp FROM tenant_users WHERE tenant_id = ? AND user_id = ?", k.guild, k.user,
		).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read member %s/%s: %w", k.guild, k.user, err)
		}
		xp := max(existing, u.xp)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_users (tenant_id, user_id, xp, level, sacrifices, is_blacklisted,
				warning_count, banner_url, avatar_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, user_id) DO UPDATE SET
				xp = excluded.xp,
				level = excluded.level,
				sacrifices = MAX(tenant_users.sacrifices, excluded.sacrifices),
				is_blacklisted = MAX(tenant_users.is_blacklisted, excluded.is_blacklisted),
				warning_count = MAX(tenant_users.warning_count, excluded.warning_count),
				banner_url = COALESCE(tenant_users.banner_url, excluded.banner_url),
				avatar_url = COALESCE(tenant_users.avatar_url, excluded.avatar_url),
				updated_at = excluded.updated_at
		`, k.guild, k.user, xp, m.engine.LevelForXP(xp), u.sacrifices, u.blacklisted,
			u.warnings, u.banner, u.avatar, now, now); err != nil {
			return fmt.Errorf("copy member %s/%s: %w", k.guild, k.user, err)
		}
		report.Users++
	}
	report.Tenants = len(tenants)
	return nil
}

func (m *Migrator) migrateSettings(ctx context.Context, tx *sql.Tx, report *Report) error {
	rows, err := tx.QueryContext(ctx, "SELECT COALESCE(CAST(key AS TEXT), ''), CAST(value AS TEXT) FROM settings")
	if err != nil {
		return fmt.Errorf("read v1 settings: %w", err)
	}
	type kv struct{ key, value string }
	var all []kv
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return fmt.Errorf("scan v1 setting: %w", err)
		}
		all = append(all, kv{key, value.String})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range all {
		tenantID, key := SplitSettingKey(s.key)
		if key == "" {
			report.Skipped++
			continue
		}
		if tenantID != tenant.Global {
			if err := tenant.ProvisionTx(ctx, tx, tenantID); err != nil {
				return err
			}
		}
		inserted, err := settings.InsertUntypedTx(ctx, tx, tenantID, key, s.value)
		if err != nil {
			return err
		}
		if inserted {
			report.Settings++
		}
	}
	return nil
}

// SplitSettingKey maps a v1 settings key to its tenant and key. Keys without
// a recognizable guild prefix belong to the global tenant.
func SplitSettingKey(raw string) (tenantID, key string) {
	raw = strings.TrimSpace(raw)
	if m := settingKeyPattern.FindStringSubmatch(raw); m != nil && tenant.ValidateID(m[1]) == nil {
		return m[1], m[2]
	}
	return tenant.Global, raw
}

func (m *Migrator) markerSet(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM legacy_migrations WHERE name = ?", MarkerV1Users).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// tableColumns returns the column names of table, empty when it does not
// exist. table is always a constant.
func tableColumns(ctx context.Context, database *db.DB, table string) (map[string]bool, error) {
	rows, err := database.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}
