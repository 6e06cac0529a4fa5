// Package settings stores typed per-tenant settings and process-wide
// statistics.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/tenant"
)

// Setting is one stored row.
type Setting struct {
	TenantID  string
	Key       string
	Value     Value
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repo handles database operations for tenant settings.
type Repo struct {
	db      *db.DB
	tenants *tenant.Registry
}

// NewRepo creates a new settings repository.
func NewRepo(database *db.DB, tenants *tenant.Registry) *Repo {
	return &Repo{db: database, tenants: tenants}
}

// Lookup returns the stored value and whether the key exists.
func (r *Repo) Lookup(ctx context.Context, tenantID, key string) (Value, bool, error) {
	if err := r.check(ctx, tenantID, key); err != nil {
		return Value{}, false, err
	}

	var raw, kind string
	err := r.db.QueryRowContext(ctx,
		"SELECT value, value_kind FROM tenant_settings WHERE tenant_id = ? AND key = ?",
		tenantID, key,
	).Scan(&raw, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("get setting %s/%s: %w", tenantID, key, db.Classify(err))
	}
	return Decode(Kind(kind), raw), true, nil
}

// Get returns the decoded value for key, or def when it is missing. Storage
// failures also fall back to def; a malformed or unprovisioned tenant does not.
func (r *Repo) Get(ctx context.Context, tenantID, key string, def any) (any, error) {
	v, ok, err := r.Lookup(ctx, tenantID, key)
	if err != nil {
		if db.IsContractViolation(err) {
			return nil, err
		}
		log.Printf("Warning: %v; using default", err)
		return def, nil
	}
	if !ok {
		return def, nil
	}
	return v.Interface(), nil
}

// Set encodes v and upserts it.
func (r *Repo) Set(ctx context.Context, tenantID, key string, v any) (Value, error) {
	val, err := FromAny(v)
	if err != nil {
		return Value{}, fmt.Errorf("set setting %s/%s: %w", tenantID, key, err)
	}
	if err := r.SetValue(ctx, tenantID, key, val); err != nil {
		return Value{}, err
	}
	return val, nil
}

// SetValue upserts an already encoded value.
func (r *Repo) SetValue(ctx context.Context, tenantID, key string, v Value) error {
	if err := r.check(ctx, tenantID, key); err != nil {
		return err
	}
	now := db.Millis(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, key, value, value_kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET
			value = excluded.value,
			value_kind = excluded.value_kind,
			updated_at = excluded.updated_at
	`, tenantID, key, v.raw, string(v.kind), now, now)
	if err != nil {
		return fmt.Errorf("set setting %s/%s: %w", tenantID, key, db.Classify(err))
	}
	return nil
}

// All returns every setting of a tenant decoded. Storage failures degrade to
// an empty map.
func (r *Repo) All(ctx context.Context, tenantID string) (map[string]any, error) {
	list, err := r.List(ctx, tenantID)
	if err != nil {
		if db.IsContractViolation(err) {
			return nil, err
		}
		log.Printf("Warning: %v; returning no settings", err)
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(list))
	for _, s := range list {
		out[s.Key] = s.Value.Interface()
	}
	return out, nil
}

// List returns the raw rows of a tenant ordered by key.
func (r *Repo) List(ctx context.Context, tenantID string) ([]Setting, error) {
	if err := r.tenants.Require(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value, value_kind, created_at, updated_at
		FROM tenant_settings WHERE tenant_id = ? ORDER BY key
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list settings %s: %w", tenantID, db.Classify(err))
	}
	defer rows.Close()

	var list []Setting
	for rows.Next() {
		s := Setting{TenantID: tenantID}
		var raw, kind string
		var created, updated int64
		if err := rows.Scan(&s.Key, &raw, &kind, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		s.Value = Decode(Kind(kind), raw)
		s.CreatedAt = db.FromMillis(created)
		s.UpdatedAt = db.FromMillis(updated)
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings %s: %w", tenantID, db.Classify(err))
	}
	return list, nil
}

// Delete removes key and reports whether a row existed.
func (r *Repo) Delete(ctx context.Context, tenantID, key string) (bool, error) {
	if err := r.check(ctx, tenantID, key); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM tenant_settings WHERE tenant_id = ? AND key = ?", tenantID, key)
	if err != nil {
		return false, fmt.Errorf("delete setting %s/%s: %w", tenantID, key, db.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete setting %s/%s: %w", tenantID, key, err)
	}
	return n > 0, nil
}

// InsertUntypedTx stores a raw legacy value inside a caller's transaction,
// keeping any row that already exists.
func InsertUntypedTx(ctx context.Context, tx *sql.Tx, tenantID, key, raw string) (bool, error) {
	now := db.Millis(time.Now())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, key, value, value_kind, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT(tenant_id, key) DO NOTHING
	`, tenantID, key, raw, now, now)
	if err != nil {
		return false, fmt.Errorf("insert legacy setting %s/%s: %w", tenantID, key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repo) check(ctx context.Context, tenantID, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("setting key is required")
	}
	return r.tenants.Require(ctx, tenantID)
}
