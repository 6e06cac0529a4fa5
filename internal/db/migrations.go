package db

import (
	"fmt"
	"log"
	"time"
)

type migration struct {
	name string
	sql  string
}

// GlobalTenant is the reserved tenant id holding tenant-independent settings.
const GlobalTenant = "global"

var migrations = []migration{
	{
		name: "create tenants table",
		sql: `
			CREATE TABLE IF NOT EXISTS tenants (
				tenant_id TEXT PRIMARY KEY,
				provisioned_at INTEGER NOT NULL
			);
			INSERT OR IGNORE INTO tenants (tenant_id, provisioned_at) VALUES ('global', 0);
		`,
	},
	{
		name: "create global users table",
		sql: `
			CREATE TABLE IF NOT EXISTS global_users (
				user_id TEXT PRIMARY KEY,
				first_seen INTEGER NOT NULL,
				display_name TEXT,
				blacklisted INTEGER NOT NULL DEFAULT 0,
				blacklist_reason TEXT NOT NULL DEFAULT '',
				blacklisted_at INTEGER,
				blacklisted_by TEXT,
				last_updated INTEGER NOT NULL
			)
		`,
	},
	{
		name: "create tenant users table",
		sql: `
			CREATE TABLE IF NOT EXISTS tenant_users (
				tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id) ON DELETE RESTRICT,
				user_id TEXT NOT NULL,
				xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
				level INTEGER NOT NULL DEFAULT 0 CHECK (level >= 0),
				last_message_at INTEGER,
				sacrifices INTEGER NOT NULL DEFAULT 0,
				sacrifice_pending INTEGER NOT NULL DEFAULT 0,
				sacrifice_pending_until INTEGER,
				is_blacklisted INTEGER NOT NULL DEFAULT 0,
				warning_count INTEGER NOT NULL DEFAULT 0,
				banner_url TEXT,
				avatar_url TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (tenant_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_tenant_users_xp ON tenant_users(tenant_id, xp DESC);
			CREATE INDEX IF NOT EXISTS idx_tenant_users_level ON tenant_users(tenant_id, level DESC);
		`,
	},
	{
		name: "create tenant settings table",
		sql: `
			CREATE TABLE IF NOT EXISTS tenant_settings (
				tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id) ON DELETE RESTRICT,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				value_kind TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (tenant_id, key)
			)
		`,
	},
	{
		name: "create statistics table",
		sql: `
			CREATE TABLE IF NOT EXISTS statistics (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				value_kind TEXT NOT NULL DEFAULT '',
				updated_at INTEGER NOT NULL
			)
		`,
	},
	{
		name: "create legacy migration markers",
		sql: `
			CREATE TABLE IF NOT EXISTS legacy_migrations (
				name TEXT PRIMARY KEY,
				completed_at INTEGER NOT NULL
			)
		`,
	},
}

// migrate applies every base schema migration not yet recorded, each inside
// its own transaction.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		log.Printf("Running migration %d: %s", version, m.name)
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, Millis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}

	return nil
}
