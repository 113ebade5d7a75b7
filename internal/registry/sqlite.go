package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"share-go/internal/registry/migrations"
	"share-go/internal/share"
)

// SQLiteStore implements share.Store and share.Auditor on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger share.Logger
}

// NewSQLiteStore opens the registry database at path and applies pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteStore(path string, logger share.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = share.NewNopLogger()
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating registry: %w", err)
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// OpenConnection opens and configures a SQLite connection for the registry.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from being split across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

const shareColumns = `code, stored_name, display_name, password_secret, expires_at,
	max_downloads, download_count, content_type, size, flagged, threat, created_at, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*share.Record, error) {
	var (
		rec       share.Record
		expiresAt sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&rec.Code, &rec.StoredName, &rec.DisplayName, &rec.PasswordSecret, &expiresAt,
		&rec.MaxDownloads, &rec.DownloadCount, &rec.ContentType, &rec.Size, &rec.Flagged, &rec.Threat,
		&createdAt, &rec.Deleted)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		at := time.Unix(0, expiresAt.Int64).UTC()
		rec.ExpiresAt = &at
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func expiresArg(rec *share.Record) sql.NullInt64 {
	if rec.ExpiresAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: rec.ExpiresAt.UnixNano(), Valid: true}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *share.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO shares (`+shareColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Code, rec.StoredName, rec.DisplayName, rec.PasswordSecret, expiresArg(rec),
		rec.MaxDownloads, rec.DownloadCount, rec.ContentType, rec.Size, rec.Flagged, rec.Threat,
		rec.CreatedAt.UnixNano(), rec.Deleted)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return share.ErrCodeTaken
		}
		return fmt.Errorf("inserting share %s: %w", rec.Code, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, code string) (*share.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE code = ? AND deleted = 0`, code)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, share.ErrNotFound
		}
		return nil, fmt.Errorf("loading share %s: %w", code, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, code string, fn func(rec *share.Record) error) (*share.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE code = ? AND deleted = 0`, code)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, share.ErrNotFound
		}
		return nil, fmt.Errorf("loading share %s: %w", code, err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Code = code

	_, err = tx.ExecContext(ctx, `UPDATE shares SET stored_name = ?, display_name = ?, password_secret = ?,
		expires_at = ?, max_downloads = ?, download_count = ?, content_type = ?, size = ?, flagged = ?,
		threat = ?, deleted = ? WHERE code = ?`,
		rec.StoredName, rec.DisplayName, rec.PasswordSecret, expiresArg(rec), rec.MaxDownloads,
		rec.DownloadCount, rec.ContentType, rec.Size, rec.Flagged, rec.Threat, rec.Deleted, code)
	if err != nil {
		return nil, fmt.Errorf("updating share %s: %w", code, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing share %s: %w", code, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*share.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE deleted = 0 ORDER BY created_at, code`)
	if err != nil {
		return nil, fmt.Errorf("listing shares: %w", err)
	}
	defer rows.Close()

	var result []*share.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning share: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Audit trail

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *share.Event) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (code, kind, detail, at) VALUES (?, ?, ?, ?)`,
		ev.Code, ev.Kind, ev.Detail, ev.At.UnixNano())
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListEvents returns up to limit events, newest first. A limit of zero or
// less returns all events.
func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]*share.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, kind, detail, at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var result []*share.Event
	for rows.Next() {
		var (
			ev share.Event
			at int64
		)
		if err := rows.Scan(&ev.ID, &ev.Code, &ev.Kind, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.At = time.Unix(0, at).UTC()
		result = append(result, &ev)
	}
	return result, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo creates a complete copy of the registry at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up registry: %w", err)
	}
	s.logger.Info("registry backed up", "dest", destPath)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ share.Store   = (*SQLiteStore)(nil)
	_ share.Auditor = (*SQLiteStore)(nil)
)
