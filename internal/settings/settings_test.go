package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/tenant"
)

func newTestRepo(t *testing.T) (*Repo, *StatsRepo, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "levels.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	reg := tenant.NewRegistry(database)
	require.NoError(t, reg.EnsureTenant(context.Background(), "100"))
	return NewRepo(database, reg), NewStatsRepo(database), database
}

func TestSettingsRoundTrip(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Set(ctx, "100", "k", map[string]any{"a": 1})
	require.NoError(t, err)
	got, err := repo.Get(ctx, "100", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	_, err = repo.Set(ctx, "100", "k", true)
	require.NoError(t, err)
	got, err = repo.Get(ctx, "100", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = repo.Set(ctx, "100", "k", []string{"x", "y"})
	require.NoError(t, err)
	got, err = repo.Get(ctx, "100", "k", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, got)

	_, err = repo.Set(ctx, "100", "n", 42)
	require.NoError(t, err)
	got, err = repo.Get(ctx, "100", "n", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)
}

func TestTaggedStringTrueStaysString(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Set(ctx, "100", "literal", "true")
	require.NoError(t, err)
	got, err := repo.Get(ctx, "100", "literal", nil)
	require.NoError(t, err)
	assert.Equal(t, "true", got)

	_, err = repo.Set(ctx, "100", "brace", "{not json")
	require.NoError(t, err)
	got, err = repo.Get(ctx, "100", "brace", nil)
	require.NoError(t, err)
	assert.Equal(t, "{not json", got)
}

func TestUntypedRowsAreSniffed(t *testing.T) {
	repo, _, database := newTestRepo(t)
	ctx := context.Background()

	rows := map[string]string{
		"flag":   "true",
		"off":    "false",
		"obj":    `{"channel":"123"}`,
		"broken": "[oops",
		"text":   "hello",
	}
	for k, v := range rows {
		_, err := database.Exec(
			"INSERT INTO tenant_settings (tenant_id, key, value, value_kind, created_at, updated_at) VALUES ('100', ?, ?, '', 0, 0)",
			k, v,
		)
		require.NoError(t, err)
	}

	all, err := repo.All(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, true, all["flag"])
	assert.Equal(t, false, all["off"])
	assert.Equal(t, map[string]any{"channel": "123"}, all["obj"])
	assert.Equal(t, "[oops", all["broken"])
	assert.Equal(t, "hello", all["text"])
}

func TestGetMissingReturnsDefault(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	got, err := repo.Get(context.Background(), "100", "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestContractViolationsPropagate(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "200", "k", "def")
	assert.ErrorIs(t, err, db.ErrSchemaNotReady)

	_, err = repo.Set(ctx, "bad tenant", "k", 1)
	assert.ErrorIs(t, err, db.ErrInvalidTenantID)

	_, err = repo.All(ctx, "200")
	assert.ErrorIs(t, err, db.ErrSchemaNotReady)
}

func TestReadsDegradeWhenStorageFails(t *testing.T) {
	repo, _, database := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, database.Close())

	got, err := repo.Get(ctx, "100", "k", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	all, err := repo.All(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = repo.Set(ctx, "100", "k", 1)
	assert.ErrorIs(t, err, db.ErrStorageUnavailable)
}

func TestDeleteSetting(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Set(ctx, "100", "k", "v")
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, "100", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, "100", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGlobalScopeSettings(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Set(ctx, tenant.Global, "maintenance", false)
	require.NoError(t, err)
	got, err := repo.Get(ctx, tenant.Global, "maintenance", true)
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestUpsertKeepsCreatedAt(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Set(ctx, "100", "k", "one")
	require.NoError(t, err)
	before, err := repo.List(ctx, "100")
	require.NoError(t, err)

	_, err = repo.Set(ctx, "100", "k", "two")
	require.NoError(t, err)
	after, err := repo.List(ctx, "100")
	require.NoError(t, err)

	require.Len(t, after, 1)
	assert.Equal(t, before[0].CreatedAt, after[0].CreatedAt)
	assert.Equal(t, "two", after[0].Value.Interface())
}

func TestStatistics(t *testing.T) {
	_, stats, _ := newTestRepo(t)
	ctx := context.Background()

	total, err := stats.Increment(ctx, StatXPAwarded, 5)
	require.NoError(t, err)
	assert.Equal(t, float64(5), total)
	total, err = stats.Increment(ctx, StatXPAwarded, 3)
	require.NoError(t, err)
	assert.Equal(t, float64(8), total)

	require.NoError(t, stats.Set(ctx, "boot_mode", "normal"))
	assert.Equal(t, "normal", stats.Get(ctx, "boot_mode", nil))
	assert.Equal(t, "none", stats.Get(ctx, "missing", "none"))

	all, err := stats.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(struct {
		Channel string `json:"channel"`
	}{Channel: "42"})
	require.NoError(t, err)
	assert.Equal(t, KindJSON, v.Kind())

	var decoded struct {
		Channel string `json:"channel"`
	}
	require.NoError(t, v.DecodeJSON(&decoded))
	assert.Equal(t, "42", decoded.Channel)

	b, ok := Bool(true).Bool()
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = String("true").Bool()
	assert.False(t, ok)

	_, err = FromAny(nil)
	assert.Error(t, err)

	assert.Equal(t, KindBool, Decode(KindUntyped, "false").Kind())
	assert.Equal(t, KindString, Decode(KindUntyped, "plain").Kind())
}

func TestParse(t *testing.T) {
	v, err := Parse(KindNumber, " 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, float64(2.5), v.Interface())

	v, err = Parse(KindBool, "false")
	require.NoError(t, err)
	assert.Equal(t, false, v.Interface())

	v, err = Parse(KindJSON, `{"roles": [1, 2]}`)
	require.NoError(t, err)
	assert.Equal(t, KindJSON, v.Kind())

	v, err = Parse(KindString, "true")
	require.NoError(t, err)
	assert.Equal(t, "true", v.Interface())

	for _, bad := range []struct {
		kind Kind
		text string
	}{
		{KindBool, "yes please"},
		{KindNumber, "NaN"},
		{KindNumber, "ten"},
		{KindJSON, "{broken"},
		{Kind("xml"), "<a/>"},
	} {
		_, err := Parse(bad.kind, bad.text)
		assert.Error(t, err, "%s %q", bad.kind, bad.text)
	}
}
