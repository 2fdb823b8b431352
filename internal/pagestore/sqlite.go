package pagestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/mmifviz/internal/ocr"
)

// SQLite stores page lists in a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite page store needs pageStore.dsn (a file path)")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; the CLI is single-process.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ocr_pages table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SavePages(ctx context.Context, entryID, viewID string, pages ocr.Pages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("marshaling pages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ocr_pages (entry_id, view_id, pages, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (entry_id, view_id) DO UPDATE SET pages = excluded.pages, updated_at = excluded.updated_at`,
		entryID, viewID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving pages for %s/%s: %w", entryID, viewID, err)
	}
	return nil
}

func (s *SQLite) LoadPages(ctx context.Context, entryID, viewID string) (ocr.Pages, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT pages FROM ocr_pages WHERE entry_id = ? AND view_id = ?", entryID, viewID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ocr.ErrPagesNotFound, entryID, viewID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pages for %s/%s: %w", entryID, viewID, err)
	}
	return decodePages([]byte(raw))
}

func (s *SQLite) DeleteEntry(ctx context.Context, entryID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ocr_pages WHERE entry_id = ?", entryID); err != nil {
		return fmt.Errorf("deleting pages for %s: %w", entryID, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
