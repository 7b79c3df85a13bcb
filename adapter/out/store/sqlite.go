package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailmind/core/port/out"
)

// SQLiteStore is an embedded EntryStore for deployments without Redis.
// Entries and index records live in separate tables updated inside one
// transaction, so the index mirrors the entry namespace exactly.
type SQLiteStore struct {
	db *sqlx.DB
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS cache_entries (
				message_id TEXT PRIMARY KEY,
				data       BLOB NOT NULL
			);
			CREATE TABLE IF NOT EXISTS cache_index (
				message_id TEXT PRIMARY KEY,
				ts_ms      INTEGER NOT NULL,
				status     TEXT NOT NULL
			);
			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL
// mode, and applies any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Entry(ctx context.Context, messageID string) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data,
		"SELECT data FROM cache_entries WHERE message_id = ?", messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", messageID, err)
	}
	return data, nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, messageID string, data []byte, idx out.IndexEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (message_id, data) VALUES (?, ?)",
		messageID, data); err != nil {
		return fmt.Errorf("sqlite put %s: %w", messageID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_index (message_id, ts_ms, status) VALUES (?, ?, ?)",
		messageID, idx.Timestamp.UnixMilli(), idx.Status); err != nil {
		return fmt.Errorf("sqlite put index %s: %w", messageID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) PutIndexOnly(ctx context.Context, messageID string, idx out.IndexEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("sqlite drop payload %s: %w", messageID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_index (message_id, ts_ms, status) VALUES (?, ?, ?)",
		messageID, idx.Timestamp.UnixMilli(), idx.Status); err != nil {
		return fmt.Errorf("sqlite put index %s: %w", messageID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", messageID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_index WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("sqlite delete index %s: %w", messageID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Index(ctx context.Context) (map[string]out.IndexEntry, error) {
	rows := []struct {
		MessageID string `db:"message_id"`
		TsMs      int64  `db:"ts_ms"`
		Status    string `db:"status"`
	}{}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT message_id, ts_ms, status FROM cache_index")
	if err != nil {
		return nil, fmt.Errorf("sqlite index scan: %w", err)
	}

	index := make(map[string]out.IndexEntry, len(rows))
	for _, r := range rows {
		index[r.MessageID] = out.IndexEntry{
			Timestamp: time.UnixMilli(r.TsMs),
			Status:    r.Status,
		}
	}
	return index, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_index"); err != nil {
		return fmt.Errorf("sqlite clear index: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
