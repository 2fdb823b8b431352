package pagestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/ocr"
)

func samplePages() ocr.Pages {
	f := ocr.Fold(ocr.NewFrame(), []ocr.Contribution{
		{Kind: ocr.TimePointUpdate, FrameNum: 30, Secs: 1},
		{Kind: ocr.TextUpdate, Text: "headline"},
	})
	return ocr.Pages{
		0: ocr.Page{{Key: ocr.FrameKey(30), Frame: f}},
		1: ocr.Page{{Key: ocr.RangeKey(60, 90), Frame: ocr.NewFrame()}},
	}
}

// exercise runs the behavior every backend shares.
func exercise(t *testing.T, s Store, entryID string) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.LoadPages(ctx, entryID, "v1"); !errors.Is(err, ocr.ErrPagesNotFound) {
		t.Fatalf("LoadPages before save: err = %v, want ErrPagesNotFound", err)
	}
	if err := s.SavePages(ctx, entryID, "v1", samplePages()); err != nil {
		t.Fatalf("SavePages error: %v", err)
	}
	got, err := s.LoadPages(ctx, entryID, "v1")
	if err != nil {
		t.Fatalf("LoadPages error: %v", err)
	}
	if len(got) != 2 || got[0][0].Key != ocr.FrameKey(30) || got[0][0].Frame.Text[0] != "headline" {
		t.Errorf("loaded pages = %+v", got)
	}
	if got[1][0].Key != ocr.RangeKey(60, 90) {
		t.Errorf("page 1 key = %v", got[1][0].Key)
	}

	// Saving again replaces the list.
	if err := s.SavePages(ctx, entryID, "v1", ocr.Paginate(nil, 4)); err != nil {
		t.Fatalf("SavePages replace error: %v", err)
	}
	got, err = s.LoadPages(ctx, entryID, "v1")
	if err != nil {
		t.Fatalf("LoadPages after replace error: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("replaced pages = %+v", got)
	}
}

func TestFS(t *testing.T) {
	root := t.TempDir()
	id := cache.HashKey([]byte("bundle"))
	if err := os.Mkdir(filepath.Join(root, id), 0o755); err != nil {
		t.Fatal(err)
	}
	s := NewFS(root)
	exercise(t, s, id)

	if _, err := os.Stat(filepath.Join(root, id, "v1-pages.json")); err != nil {
		t.Errorf("page file not written: %v", err)
	}
}

func TestFS_MissingEntry(t *testing.T) {
	s := NewFS(t.TempDir())
	id := cache.HashKey([]byte("gone"))
	err := s.SavePages(context.Background(), id, "v1", samplePages())
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("err = %v, want cache.ErrNotFound", err)
	}
	if _, err := s.LoadPages(context.Background(), "../x", "v1"); !errors.Is(err, cache.ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "pages.db"))
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer s.Close()

	id := cache.HashKey([]byte("bundle"))
	exercise(t, s, id)

	if err := s.DeleteEntry(ctx, id); err != nil {
		t.Fatalf("DeleteEntry error: %v", err)
	}
	if _, err := s.LoadPages(ctx, id, "v1"); !errors.Is(err, ocr.ErrPagesNotFound) {
		t.Errorf("after DeleteEntry err = %v", err)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("MMIFVIZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MMIFVIZ_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres error: %v", err)
	}
	defer s.Close()

	id := cache.HashKey([]byte(t.Name()))
	if err := s.DeleteEntry(ctx, id); err != nil {
		t.Fatalf("DeleteEntry error: %v", err)
	}
	defer s.DeleteEntry(ctx, id)
	exercise(t, s, id)
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "redis", "", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
	s, err := Open(context.Background(), "", t.TempDir(), "")
	if err != nil {
		t.Fatalf("Open default error: %v", err)
	}
	if _, ok := s.(*FS); !ok {
		t.Errorf("default backend = %T, want *FS", s)
	}
}
