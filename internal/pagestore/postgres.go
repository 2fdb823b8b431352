package pagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshills/mmifviz/internal/ocr"
)

// Postgres stores page lists in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and creates the
// table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres page store needs pageStore.dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create ocr_pages table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) SavePages(ctx context.Context, entryID, viewID string, pages ocr.Pages) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("marshaling pages: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ocr_pages (entry_id, view_id, pages, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entry_id, view_id) DO UPDATE SET pages = EXCLUDED.pages, updated_at = EXCLUDED.updated_at`,
		entryID, viewID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving pages for %s/%s: %w", entryID, viewID, err)
	}
	return nil
}

func (s *Postgres) LoadPages(ctx context.Context, entryID, viewID string) (ocr.Pages, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		"SELECT pages FROM ocr_pages WHERE entry_id = $1 AND view_id = $2", entryID, viewID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ocr.ErrPagesNotFound, entryID, viewID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pages for %s/%s: %w", entryID, viewID, err)
	}
	return decodePages([]byte(raw))
}

func (s *Postgres) DeleteEntry(ctx context.Context, entryID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM ocr_pages WHERE entry_id = $1", entryID); err != nil {
		return fmt.Errorf("deleting pages for %s: %w", entryID, err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
