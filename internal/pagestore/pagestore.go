package pagestore

import (
	"context"
	"fmt"

	"github.com/dshills/mmifviz/internal/ocr"
)

// Backend names accepted by Open.
const (
	BackendFS       = "fs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store is a page repository that can also forget an entry.
type Store interface {
	ocr.PageRepository
	// DeleteEntry removes every page list stored for the entry.
	DeleteEntry(ctx context.Context, entryID string) error
	Close() error
}

// Open returns the backend named by backend. cacheRoot is used by the fs
// backend; dsn by the database backends.
func Open(ctx context.Context, backend, cacheRoot, dsn string) (Store, error) {
	switch backend {
	case "", BackendFS:
		return NewFS(cacheRoot), nil
	case BackendSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown page store backend %q (want fs, sqlite, or postgres)", backend)
}

const createTable = `CREATE TABLE IF NOT EXISTS ocr_pages (
	entry_id   TEXT NOT NULL,
	view_id    TEXT NOT NULL,
	pages      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (entry_id, view_id)
)`
