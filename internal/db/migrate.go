// Schema migration management. Migrations are embedded in the binary: a
// library linked into a mobile app cannot rely on a migrations directory
// existing on disk.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents one applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationSource is an embedded schema migration.
type migrationSource struct {
	version     int
	description string
	sql         string
}

// migrations is the ordered embedded schema. Append-only: released
// versions are never edited, since their checksums are recorded.
var migrations = []migrationSource{
	{
		version:     1,
		description: "initial_schema",
		sql: `
CREATE TABLE IF NOT EXISTS offline_actions (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	work_order_id TEXT NOT NULL,
	actor_id      TEXT NOT NULL,
	payload       TEXT NOT NULL DEFAULT '{}',
	synced        INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_work_order ON offline_actions(work_order_id);
CREATE INDEX IF NOT EXISTS idx_actions_synced ON offline_actions(synced, attempts);

CREATE TABLE IF NOT EXISTS action_partitions (
	work_order_id TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS photo_assets (
	id            TEXT PRIMARY KEY,
	work_order_id TEXT NOT NULL,
	kind          TEXT NOT NULL,
	primary_path  TEXT NOT NULL,
	backup_path   TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	synced        INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_photos_work_order ON photo_assets(work_order_id, kind);
CREATE INDEX IF NOT EXISTS idx_photos_synced ON photo_assets(synced, created_at);

CREATE TABLE IF NOT EXISTS slot_bindings (
	work_order_id TEXT NOT NULL,
	container_id  TEXT NOT NULL,
	remote_id     TEXT NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (work_order_id, container_id)
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key          TEXT PRIMARY KEY,
	endpoint     TEXT NOT NULL,
	data         TEXT NOT NULL,
	fetched_at   INTEGER NOT NULL,
	last_sync_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_endpoint ON cache_entries(endpoint);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`,
	},
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// AppliedMigrations returns all applied migrations in version order.
func (m *Migrator) AppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		out = append(out, mig)
	}
	return out, rows.Err()
}

// Up applies all pending migrations. Already-applied versions are verified
// against their recorded checksum and skipped.
func (m *Migrator) Up() error {
	applied, err := m.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedChecksums := make(map[int]string, len(applied))
	for _, mig := range applied {
		appliedChecksums[mig.Version] = mig.Checksum
	}

	for _, src := range migrations {
		checksum := checksumOf(src.sql)
		if recorded, ok := appliedChecksums[src.version]; ok {
			if recorded != checksum {
				return fmt.Errorf("migration V%d was modified after being applied (checksum mismatch)", src.version)
			}
			continue
		}
		if err := m.apply(src, checksum); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", src.version, err)
		}
	}

	return nil
}

// apply runs a single migration inside a transaction.
func (m *Migrator) apply(src migrationSource, checksum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(src.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, src.version, time.Now().Unix(), src.description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func checksumOf(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}
