// Package tenant provisions and tracks tenant namespaces.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/notepid/levelbot/internal/db"
)

var tracer = otel.Tracer("github.com/notepid/levelbot/internal/tenant")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// Global is the reserved tenant holding tenant-independent settings. It is
// created with the base schema and never provisioned on demand.
const Global = db.GlobalTenant

// Tenant is one provisioned namespace.
type Tenant struct {
	ID            string
	ProvisionedAt time.Time
}

// Registry provisions tenant namespaces on first use and remembers which
// ones exist.
type Registry struct {
	db *db.DB

	mu    sync.RWMutex
	known map[string]struct{}

	group singleflight.Group

	provisions int // successful provisioning round trips, for tests
}

// NewRegistry creates a registry over an open database.
func NewRegistry(database *db.DB) *Registry {
	return &Registry{
		db:    database,
		known: map[string]struct{}{Global: {}},
	}
}

// ValidateID checks tenant id format.
func ValidateID(tenantID string) error {
	if !idPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: %q", db.ErrInvalidTenantID, tenantID)
	}
	return nil
}

// EnsureTenant provisions tenantID if it has not been seen before. The
// membership cache is only filled after the insert succeeds, so a failure is
// retried on the next call.
func (r *Registry) EnsureTenant(ctx context.Context, tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	if r.cached(tenantID) {
		return nil
	}

	_, err, _ := r.group.Do(tenantID, func() (any, error) {
		if r.cached(tenantID) {
			return nil, nil
		}
		return nil, r.provision(ctx, tenantID)
	})
	return err
}

// Require returns nil when tenantID is provisioned and ErrSchemaNotReady
// otherwise. Tenants provisioned by another process are picked up from the
// database and cached.
func (r *Registry) Require(ctx context.Context, tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	if r.cached(tenantID) {
		return nil
	}

	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM tenants WHERE tenant_id = ?", tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", db.ErrSchemaNotReady, tenantID)
	}
	if err != nil {
		return fmt.Errorf("look up tenant %s: %w", tenantID, db.Classify(err))
	}
	r.remember(tenantID)
	return nil
}

// List returns every provisioned tenant except the global scope, oldest first.
func (r *Registry) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, provisioned_at FROM tenants
		WHERE tenant_id <> ?
		ORDER BY provisioned_at, tenant_id
	`, Global)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", db.Classify(err))
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		var provisioned int64
		if err := rows.Scan(&t.ID, &provisioned); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.ProvisionedAt = db.FromMillis(provisioned)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ProvisionTx registers tenantID inside a caller's transaction. The cache is
// not touched; Require picks the tenant up after commit.
func ProvisionTx(ctx context.Context, tx *sql.Tx, tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO tenants (tenant_id, provisioned_at) VALUES (?, ?) ON CONFLICT(tenant_id) DO NOTHING",
		tenantID, db.Millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("provision tenant %s: %w", tenantID, err)
	}
	return nil
}

func (r *Registry) provision(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "tenant.provision")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return ProvisionTx(ctx, tx, tenantID)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.mu.Lock()
	r.known[tenantID] = struct{}{}
	r.provisions++
	r.mu.Unlock()
	return nil
}

func (r *Registry) cached(tenantID string) bool {
	r.mu.RLock()
	_, ok := r.known[tenantID]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) remember(tenantID string) {
	r.mu.Lock()
	r.known[tenantID] = struct{}{}
	r.mu.Unlock()
}
