package pagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/ocr"
)

// FS stores page lists as JSON files inside cache entry directories.
type FS struct {
	root string
}

// NewFS returns a file store over the cache rooted at root.
func NewFS(root string) *FS {
	return &FS{root: root}
}

func (s *FS) entry(entryID string) (cache.Entry, error) {
	if !cache.ValidID(entryID) {
		return cache.Entry{}, fmt.Errorf("%w: %q", cache.ErrInvalidID, entryID)
	}
	return cache.Entry{ID: entryID, Dir: filepath.Join(s.root, entryID)}, nil
}

// SavePages writes the view's page list. The entry directory must exist.
func (s *FS) SavePages(_ context.Context, entryID, viewID string, pages ocr.Pages) error {
	e, err := s.entry(entryID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("marshaling pages: %w", err)
	}
	if err := fsx.WriteFileAtomic(e.Dir, ocr.PagesFileName(viewID), data); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", cache.ErrNotFound, entryID)
		}
		return fmt.Errorf("writing pages: %w", err)
	}
	return nil
}

// LoadPages reads the view's page list.
func (s *FS) LoadPages(_ context.Context, entryID, viewID string) (ocr.Pages, error) {
	e, err := s.entry(entryID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(e.PagesPath(viewID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ocr.ErrPagesNotFound, entryID, viewID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading pages: %w", err)
	}
	return decodePages(data)
}

// DeleteEntry is a no-op: page files go away with the entry directory.
func (s *FS) DeleteEntry(context.Context, string) error { return nil }

// Close is a no-op.
func (s *FS) Close() error { return nil }

func decodePages(data []byte) (ocr.Pages, error) {
	var pages ocr.Pages
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("decoding pages: %w", err)
	}
	return pages, nil
}
