// Package storage persists sealed credentials and pre-update page backups in
// SQLite. It is the app's implementation of credentials.KeyValueStore and
// publish.BackupStore.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the SQLite connection.
type DB struct {
	conn *sqlx.DB
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if err := RunMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// RunMigrations executes the schema and any later column additions.
// It is idempotent.
func RunMigrations(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}

	// Migration: page URL recorded with each backup.
	var colExists int
	err := db.Get(&colExists, `SELECT COUNT(*) FROM pragma_table_info('page_backups') WHERE name = 'url'`)
	if err != nil {
		return err
	}
	if colExists == 0 {
		if _, err := db.Exec(`ALTER TABLE page_backups ADD COLUMN url TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
	}
	return nil
}

// Write stores value under key, replacing any previous value.
func (d *DB) Write(ctx context.Context, key string, value []byte) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO secure_kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, d.now().UTC())
	return err
}

// Read returns the value stored under key.
func (d *DB) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.conn.GetContext(ctx, &value, `SELECT value FROM secure_kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes key. Missing keys are not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM secure_kv WHERE key = ?`, key)
	return err
}

// PageBackup is a page snapshot taken before an update.
type PageBackup struct {
	ID        int64     `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"runId"`
	PageID    string    `db:"page_id" json:"pageId"`
	SpaceKey  string    `db:"space_key" json:"spaceKey"`
	Title     string    `db:"title" json:"title"`
	URL       string    `db:"url" json:"url"`
	Version   int       `db:"version" json:"version"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// SaveBackup records b and returns its id.
func (d *DB) SaveBackup(ctx context.Context, b PageBackup) (int64, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = d.now().UTC()
	}
	res, err := d.conn.NamedExecContext(ctx,
		`INSERT INTO page_backups (run_id, page_id, space_key, title, url, version, content, created_at)
		 VALUES (:run_id, :page_id, :space_key, :title, :url, :version, :content, :created_at)`, b)
	if err != nil {
		return 0, fmt.Errorf("save backup: %w", err)
	}
	return res.LastInsertId()
}

// LatestBackup returns the most recent backup of pageID.
func (d *DB) LatestBackup(ctx context.Context, pageID string) (PageBackup, bool, error) {
	var b PageBackup
	err := d.conn.GetContext(ctx, &b,
		`SELECT id, run_id, page_id, space_key, title, url, version, content, created_at
		 FROM page_backups WHERE page_id = ? ORDER BY version DESC, id DESC LIMIT 1`, pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return PageBackup{}, false, nil
	}
	if err != nil {
		return PageBackup{}, false, fmt.Errorf("load backup: %w", err)
	}
	return b, true, nil
}

// ListBackups returns every backup of pageID, newest first.
func (d *DB) ListBackups(ctx context.Context, pageID string) ([]PageBackup, error) {
	var out []PageBackup
	err := d.conn.SelectContext(ctx, &out,
		`SELECT id, run_id, page_id, space_key, title, url, version, content, created_at
		 FROM page_backups WHERE page_id = ? ORDER BY version DESC, id DESC`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return out, nil
}
