package user

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/settings"
	"github.com/notepid/levelbot/internal/tenant"
)

const testTenant = "4242"

func newTestRepo(t *testing.T, cfg leveling.Config) (*Repo, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "levels.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	reg := tenant.NewRegistry(database)
	require.NoError(t, reg.EnsureTenant(context.Background(), testTenant))

	engine, err := leveling.New(cfg)
	require.NoError(t, err)
	return NewRepo(database, reg, engine, time.Minute), database
}

// smallCurve tops out at level 3 with 300 xp.
func smallCurve() leveling.Config {
	return leveling.Config{BaseXP: 100, Curve: 1, MaxLevel: 3}
}

func TestEnsureTenantUserIsIdempotent(t *testing.T) {
	repo, database := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	first, err := repo.EnsureTenantUser(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.XP)
	assert.Equal(t, 0, first.Level)

	_, err = repo.EnsureTenantUser(ctx, "u1", testTenant)
	require.NoError(t, err)

	var rows int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM tenant_users WHERE user_id = 'u1'").Scan(&rows))
	assert.Equal(t, 1, rows)
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM global_users WHERE user_id = 'u1'").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestUnprovisionedTenantIsRejected(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	_, err := repo.AddXP(ctx, "u1", "999", 10)
	assert.ErrorIs(t, err, db.ErrSchemaNotReady)

	_, err = repo.Leaderboard(ctx, "999", 1, 10)
	assert.ErrorIs(t, err, db.ErrSchemaNotReady)

	_, err = repo.AddXP(ctx, "u1", "bad-id!", 10)
	assert.ErrorIs(t, err, db.ErrInvalidTenantID)
}

func TestAddXPLevelsUp(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	res, err := repo.AddXP(ctx, "u1", testTenant, 850)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 0, res.OldLevel)
	assert.Equal(t, 4, res.NewLevel)
	assert.Equal(t, int64(850), res.CurrentXP)
	assert.Equal(t, int64(268), res.XPToNextLevel)

	res, err = repo.AddXP(ctx, "u1", testTenant, 1)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 4, res.NewLevel)

	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(851), m.XP)
	assert.Equal(t, 4, m.Level)
	require.NotNil(t, m.LastMessageAt)
}

func TestAddXPRejectsNegativeAmount(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	_, err := repo.AddXP(context.Background(), "u1", testTenant, -5)
	assert.Error(t, err)
}

func TestAddXPConcurrentIncrementsAreNotLost(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.AddXP(ctx, "u1", testTenant, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(n), m.XP)
	assert.Equal(t, repo.Engine().LevelForXP(n), m.Level)

	stats := settings.NewStatsRepo(repo.db)
	assert.Equal(t, float64(n), stats.Get(ctx, settings.StatXPAwarded, 0))
}

func TestGetMergesGlobalIdentity(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	_, err := repo.Get(ctx, "ghost", testTenant)
	assert.ErrorIs(t, err, db.ErrNotFound)

	name := "Ada"
	_, err = repo.EnsureGlobalUser(ctx, "u1", &name)
	require.NoError(t, err)
	_, err = repo.AddXP(ctx, "u1", testTenant, 5)
	require.NoError(t, err)

	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	require.NotNil(t, m.Global)
	assert.Equal(t, "Ada", m.DisplayName())

	// A nil name never overwrites a stored one.
	g, err := repo.EnsureGlobalUser(ctx, "u1", nil)
	require.NoError(t, err)
	require.NotNil(t, g.DisplayName)
	assert.Equal(t, "Ada", *g.DisplayName)
}

func TestLeaderboardPagination(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		_, err := repo.AddXP(ctx, fmt.Sprintf("u%02d", i), testTenant, int64(i*10))
		require.NoError(t, err)
	}

	page, err := repo.Leaderboard(ctx, testTenant, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, page.TotalUsers)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Entries, 10)
	assert.Equal(t, "u15", page.Entries[0].UserID)
	assert.Equal(t, 1, page.Entries[0].Position)
	assert.Equal(t, int64(150), page.Entries[0].XP)

	page, err = repo.Leaderboard(ctx, testTenant, 2, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, 11, page.Entries[0].Position)
	assert.Equal(t, "u05", page.Entries[0].UserID)
	assert.Equal(t, "u01", page.Entries[4].UserID)

	page, err = repo.Leaderboard(ctx, testTenant, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 2, page.TotalPages)

	page, err = repo.Leaderboard(ctx, testTenant, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Equal(t, DefaultPageSize, page.PageSize)
}

func TestLeaderboardEmptyTenant(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	page, err := repo.Leaderboard(context.Background(), testTenant, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalUsers)
	assert.Equal(t, 0, page.TotalPages)
	assert.Empty(t, page.Entries)
}

func TestRankSharesTies(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	for id, xp := range map[string]int64{"a": 300, "b": 200, "c": 200, "d": 100} {
		_, err := repo.AddXP(ctx, id, testTenant, xp)
		require.NoError(t, err)
	}

	want := map[string]int{"a": 1, "b": 2, "c": 2, "d": 4}
	for id, rank := range want {
		got, err := repo.Rank(ctx, id, testTenant)
		require.NoError(t, err)
		assert.Equal(t, rank, got, "rank of %s", id)
	}

	_, err := repo.Rank(ctx, "nobody", testTenant)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSacrificeFlow(t *testing.T) {
	repo, _ := newTestRepo(t, smallCurve())
	ctx := context.Background()

	res, err := repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, SacrificeNotEligible, res.Outcome)

	_, err = repo.AddXP(ctx, "u1", testTenant, 300)
	require.NoError(t, err)
	ok, err := repo.Eligible(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err = repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, SacrificeNeedsConfirmation, res.Outcome)
	require.NotNil(t, res.PendingUntil)

	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.True(t, m.SacrificePending)

	res, err = repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, SacrificeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Sacrifices)
	assert.Equal(t, int64(100), res.XP)
	assert.Equal(t, 1, res.Level)

	m, err = repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.False(t, m.SacrificePending)
	assert.Equal(t, 1, m.Sacrifices)
	assert.Equal(t, int64(100), m.XP)
	assert.Equal(t, 1, m.Level)

	stats := settings.NewStatsRepo(repo.db)
	assert.Equal(t, float64(1), stats.Get(ctx, settings.StatSacrificesCompleted, 0))
}

func TestSacrificePendingExpires(t *testing.T) {
	repo, _ := newTestRepo(t, smallCurve())
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	_, err := repo.AddXP(ctx, "u1", testTenant, 300)
	require.NoError(t, err)
	res, err := repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	require.Equal(t, SacrificeNeedsConfirmation, res.Outcome)

	now = now.Add(2 * time.Minute)
	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.False(t, m.SacrificePending)

	// An expired request starts over instead of confirming.
	res, err = repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, SacrificeNeedsConfirmation, res.Outcome)
	assert.Equal(t, 0, res.Sacrifices)
}

func TestResetSacrificePending(t *testing.T) {
	repo, _ := newTestRepo(t, smallCurve())
	ctx := context.Background()

	_, err := repo.AddXP(ctx, "u1", testTenant, 300)
	require.NoError(t, err)
	_, err = repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)

	require.NoError(t, repo.ResetSacrificePending(ctx, "u1", testTenant))
	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.False(t, m.SacrificePending)
	assert.Nil(t, m.SacrificePendingUntil)

	res, err := repo.Sacrifice(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, SacrificeNeedsConfirmation, res.Outcome)
}

func TestEligibleUnknownUser(t *testing.T) {
	repo, _ := newTestRepo(t, smallCurve())
	ok, err := repo.Eligible(context.Background(), "nobody", testTenant)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlacklists(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	ok, err := repo.IsBlacklisted(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetTenantBlacklist(ctx, "u1", testTenant, true))
	ok, err = repo.IsBlacklisted(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, repo.SetTenantBlacklist(ctx, "u1", testTenant, false))

	require.NoError(t, repo.SetGlobalBlacklist(ctx, "u1", "spam", "mod"))
	ok, err = repo.IsBlacklisted(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.True(t, ok)

	g, err := repo.GlobalUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "spam", g.BlacklistReason)
	require.NotNil(t, g.BlacklistedBy)
	assert.Equal(t, "mod", *g.BlacklistedBy)

	require.NoError(t, repo.ClearGlobalBlacklist(ctx, "u1"))
	ok, err = repo.IsGloballyBlacklisted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWarnings(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := repo.AddWarning(ctx, "u1", testTenant)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, repo.ResetWarnings(ctx, "u1", testTenant))
	got, err := repo.Warnings(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestMediaURLs(t *testing.T) {
	repo, _ := newTestRepo(t, leveling.DefaultConfig())
	ctx := context.Background()

	url, err := repo.Banner(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Empty(t, url)

	require.NoError(t, repo.SetBanner(ctx, "u1", testTenant, "https://cdn.example/b.png"))
	require.NoError(t, repo.SetAvatar(ctx, "u1", testTenant, "https://cdn.example/a.png"))

	url, err = repo.Banner(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/b.png", url)
	url, err = repo.Avatar(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.png", url)

	require.NoError(t, repo.SetBanner(ctx, "u1", testTenant, ""))
	m, err := repo.Get(ctx, "u1", testTenant)
	require.NoError(t, err)
	assert.Nil(t, m.BannerURL)
	require.NotNil(t, m.AvatarURL)
}
