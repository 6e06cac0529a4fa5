package tenant

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/levelbot/internal/db"
)

func newTestRegistry(t *testing.T) (*Registry, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "levels.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewRegistry(database), database
}

func TestEnsureTenantIsIdempotent(t *testing.T) {
	reg, database := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureTenant(ctx, "123456789"))
	require.NoError(t, reg.EnsureTenant(ctx, "123456789"))

	assert.Equal(t, 1, reg.provisions, "second call should hit the cache")

	var count int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM tenants WHERE tenant_id = '123456789'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnsureTenantConcurrentFirstUse(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- reg.EnsureTenant(ctx, "guild_1")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, reg.cached("guild_1"))
}

func TestEnsureTenantRejectsMalformedIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"", "guild-1", "1; DROP TABLE tenants", "abc def", "ünïcode", "012345678901234567890123456789012"} {
		err := reg.EnsureTenant(ctx, id)
		assert.ErrorIs(t, err, db.ErrInvalidTenantID, "id %q", id)
	}
}

func TestGlobalBypassesProvisioning(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.EnsureTenant(context.Background(), Global))
	require.NoError(t, reg.Require(context.Background(), Global))
	assert.Zero(t, reg.provisions)
}

func TestRequire(t *testing.T) {
	reg, database := newTestRegistry(t)
	ctx := context.Background()

	err := reg.Require(ctx, "999")
	assert.ErrorIs(t, err, db.ErrSchemaNotReady)

	// Provisioned by someone else: picked up from the table.
	_, err = database.Exec("INSERT INTO tenants (tenant_id, provisioned_at) VALUES ('999', 1)")
	require.NoError(t, err)
	require.NoError(t, reg.Require(ctx, "999"))
	assert.True(t, reg.cached("999"))

	assert.ErrorIs(t, reg.Require(ctx, "bad id"), db.ErrInvalidTenantID)
}

func TestList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureTenant(ctx, "a1"))
	require.NoError(t, reg.EnsureTenant(ctx, "b2"))

	tenants, err := reg.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(tenants))
	for _, tn := range tenants {
		ids = append(ids, tn.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "b2"}, ids)
}
