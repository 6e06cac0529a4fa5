package legacy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/settings"
	"github.com/notepid/levelbot/internal/tenant"
)

const v1Schema = `
	CREATE TABLE users (
		user_id TEXT,
		guild_id TEXT,
		xp INTEGER,
		level INTEGER,
		sacrifices INTEGER,
		banner_url TEXT,
		username TEXT
	);
	CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT);
`

func newTestMigrator(t *testing.T) (*Migrator, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "levels.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	engine, err := leveling.New(leveling.DefaultConfig())
	require.NoError(t, err)
	return NewMigrator(database, engine), database
}

func seedV1(t *testing.T, database *db.DB) {
	t.Helper()
	_, err := database.Exec(v1Schema)
	require.NoError(t, err)
	_, err = database.Exec(`
		INSERT INTO users (user_id, guild_id, xp, level, sacrifices, banner_url, username) VALUES
			('u1', '111', 850, 3, 0, 'https://cdn.example/b.png', 'Ada'),
			('u1', '111', 900, 4, 1, NULL, NULL),
			('u1', '222', 100, 1, 0, NULL, NULL),
			('u2', '111', NULL, 0, 0, NULL, 'Bob'),
			('u3', 'not a guild', 50, 0, 0, NULL, NULL);
		INSERT INTO settings (key, value) VALUES
			('111_welcome', 'hi'),
			('222:levelup_channel', '42'),
			('guild_111_roles', '[1,2]'),
			('maintenance', 'true');
	`)
	require.NoError(t, err)
}

func TestRunWithoutLegacyTables(t *testing.T) {
	m, _ := newTestMigrator(t)
	out, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotDetected, out)
}

func TestRunMigratesV1Data(t *testing.T) {
	m, database := newTestMigrator(t)
	ctx := context.Background()
	seedV1(t, database)

	out, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Migrated, out)
	assert.Equal(t, 3, m.Last.Users)
	assert.Equal(t, 2, m.Last.Tenants)
	assert.Equal(t, 4, m.Last.Settings)
	assert.Equal(t, 1, m.Last.Skipped)

	var xp int64
	var level, sacrifices int
	var banner string
	require.NoError(t, database.QueryRow(`
		SELECT xp, level, sacrifices, banner_url FROM tenant_users WHERE tenant_id = '111' AND user_id = 'u1'
	`).Scan(&xp, &level, &sacrifices, &banner))
	assert.Equal(t, int64(900), xp)
	assert.Equal(t, 4, level)
	assert.Equal(t, 1, sacrifices)
	assert.Equal(t, "https://cdn.example/b.png", banner)

	var name string
	require.NoError(t, database.QueryRow("SELECT display_name FROM global_users WHERE user_id = 'u1'").Scan(&name))
	assert.Equal(t, "Ada", name)

	reg := tenant.NewRegistry(database)
	require.NoError(t, reg.Require(ctx, "111"))
	require.NoError(t, reg.Require(ctx, "222"))

	repo := settings.NewRepo(database, reg)
	got, err := repo.Get(ctx, "111", "welcome", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	got, err = repo.Get(ctx, "111", "roles", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, got)
	got, err = repo.Get(ctx, "222", "levelup_channel", nil)
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	got, err = repo.Get(ctx, tenant.Global, "maintenance", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	stats := settings.NewStatsRepo(database)
	assert.Equal(t, float64(3), stats.Get(ctx, settings.StatLegacyUsers, 0))
}

func TestRunIsOneShot(t *testing.T) {
	m, database := newTestMigrator(t)
	ctx := context.Background()
	seedV1(t, database)

	out, err := m.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Migrated, out)

	out, err = m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlreadyComplete, out)

	var markers int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM legacy_migrations").Scan(&markers))
	assert.Equal(t, 1, markers)
}

func TestRunRollsBackOnFailure(t *testing.T) {
	m, database := newTestMigrator(t)
	ctx := context.Background()
	seedV1(t, database)

	// A trigger that rejects the marker forces the final statement to fail.
	_, err := database.Exec(`
		CREATE TRIGGER reject_marker BEFORE INSERT ON legacy_migrations
		BEGIN SELECT RAISE(ABORT, 'marker rejected'); END;
	`)
	require.NoError(t, err)

	_, err = m.Run(ctx)
	require.Error(t, err)

	var users, tenants int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM tenant_users").Scan(&users))
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM tenants WHERE tenant_id <> 'global'").Scan(&tenants))
	assert.Equal(t, 0, users)
	assert.Equal(t, 0, tenants)

	_, err = database.Exec("DROP TRIGGER reject_marker")
	require.NoError(t, err)
	out, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Migrated, out)
}

func TestSplitSettingKey(t *testing.T) {
	tests := []struct {
		raw    string
		tenant string
		key    string
	}{
		{"111_welcome", "111", "welcome"},
		{"111:welcome", "111", "welcome"},
		{"guild_111_welcome_text", "111", "welcome_text"},
		{"maintenance", tenant.Global, "maintenance"},
		{"xp_rate", tenant.Global, "xp_rate"},
		{"123456789012345678901234567890123_x", tenant.Global, "123456789012345678901234567890123_x"},
	}
	for _, tt := range tests {
		gotTenant, gotKey := SplitSettingKey(tt.raw)
		if gotTenant != tt.tenant || gotKey != tt.key {
			t.Errorf("SplitSettingKey(%q) = %q, %q; expected %q, %q", tt.raw, gotTenant, gotKey, tt.tenant, tt.key)
		}
	}
}
