package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return s
}

func create(t *testing.T, s *Store, bundle string) Entry {
	t.Helper()
	e, _, err := s.OpenOrCreate(HashKey([]byte(bundle)), []byte(bundle))
	if err != nil {
		t.Fatalf("OpenOrCreate error: %v", err)
	}
	return e
}

func TestHashKey(t *testing.T) {
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashKey([]byte("abc")); got != want {
		t.Errorf("HashKey = %s, want %s", got, want)
	}
}

func TestValidID(t *testing.T) {
	good := HashKey([]byte("x"))
	tests := []struct {
		id   string
		want bool
	}{
		{good, true},
		{strings.ToUpper(good), false},
		{good[:63], false},
		{"../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestStore_IdempotentUpload(t *testing.T) {
	s := newStore(t)
	bundle := []byte(`{"documents":[]}`)
	id := HashKey(bundle)

	e1, created, err := s.OpenOrCreate(id, bundle)
	if err != nil {
		t.Fatalf("OpenOrCreate error: %v", err)
	}
	if !created {
		t.Error("first upload should create the entry")
	}
	e2, created, err := s.OpenOrCreate(id, bundle)
	if err != nil {
		t.Fatalf("second OpenOrCreate error: %v", err)
	}
	if created {
		t.Error("second upload should reuse the entry")
	}
	if e1 != e2 {
		t.Errorf("entries differ: %+v vs %+v", e1, e2)
	}
	data, err := os.ReadFile(e1.BundlePath())
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !bytes.Equal(data, bundle) {
		t.Error("stored bundle differs")
	}
	if _, err := os.Stat(filepath.Join(e1.Dir, MarkerFile)); err != nil {
		t.Errorf("marker missing: %v", err)
	}
}

func TestStore_ConcurrentCreate(t *testing.T) {
	s := newStore(t)
	bundle := []byte("same bundle")
	id := HashKey(bundle)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.OpenOrCreate(id, bundle)
			if err != nil {
				t.Errorf("OpenOrCreate error: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.Entries != 1 || st.Staging != 0 {
		t.Errorf("stats = %+v, want one entry and no staging left", st)
	}
}

func TestStore_PathConflict(t *testing.T) {
	s := newStore(t)
	id := HashKey([]byte("b"))
	if err := os.WriteFile(filepath.Join(s.Root(), id), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.OpenOrCreate(id, []byte("b"))
	if !IsPathConflict(err) {
		t.Errorf("err = %v, want PathConflictError", err)
	}
}

func TestStore_LookupMiss(t *testing.T) {
	s := newStore(t)
	if _, err := s.Lookup(HashKey([]byte("nope"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Lookup("../escape"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestStore_TouchDeleted(t *testing.T) {
	s := newStore(t)
	e := create(t, s, "gone soon")
	if err := s.Delete(e); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := s.Touch(e); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(e.Dir); !os.IsNotExist(err) {
		t.Error("Touch recreated a deleted entry")
	}
	if err := s.Delete(e); err != nil {
		t.Errorf("second Delete error: %v", err)
	}
}

func TestStore_OldestLRU(t *testing.T) {
	s := newStore(t)
	base := time.Unix(1_700_000_000, 0)
	a := create(t, s, "a")
	b := create(t, s, "b")
	c := create(t, s, "c")
	for i, e := range []Entry{b, c, a} {
		if err := s.touchAt(e, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("touch error: %v", err)
		}
	}
	got, ok, err := s.Oldest()
	if err != nil || !ok {
		t.Fatalf("Oldest = %v, %v", ok, err)
	}
	if got.ID != b.ID {
		t.Errorf("Oldest = %s, want b", got.ID)
	}

	// Touching b moves it to the back.
	if err := s.touchAt(b, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got, _, _ := s.Oldest(); got.ID != c.ID {
		t.Errorf("Oldest after touch = %s, want c", got.ID)
	}
}

func TestStore_OldestMissingAndBadMarker(t *testing.T) {
	s := newStore(t)
	a := create(t, s, "a")
	b := create(t, s, "b")

	if err := os.WriteFile(filepath.Join(a.Dir, MarkerFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Oldest()
	if err != nil || !ok || got.ID != b.ID {
		t.Fatalf("Oldest = %v %v %v, want b (a's marker is being rewritten)", got.ID, ok, err)
	}

	if err := os.Remove(filepath.Join(b.Dir, MarkerFile)); err != nil {
		t.Fatal(err)
	}
	if err := s.touchAt(a, time.Unix(1, 0)); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Oldest()
	if got.ID != b.ID {
		t.Errorf("Oldest = %s, want b (missing marker is time 0)", got.ID)
	}
}

func TestStore_InvalidateAll(t *testing.T) {
	s := newStore(t)
	a := create(t, s, "a")
	b := create(t, s, "b")

	if err := s.InvalidateAll(a.ID); err != nil {
		t.Fatalf("InvalidateAll(a) error: %v", err)
	}
	if _, err := s.Lookup(a.ID); !errors.Is(err, ErrNotFound) {
		t.Error("a should be gone")
	}
	if _, err := s.Lookup(b.ID); err != nil {
		t.Errorf("b should remain: %v", err)
	}

	if err := s.InvalidateAll(); err != nil {
		t.Fatalf("InvalidateAll() error: %v", err)
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("root missing after reset: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root not empty: %d entries", len(entries))
	}
}

func TestStore_EntriesAndStats(t *testing.T) {
	s := newStore(t)
	a := create(t, s, "aaaa")
	b := create(t, s, "bb")
	if err := s.touchAt(a, time.Unix(200, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.touchAt(b, time.Unix(100, 0)); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Root(), stagingPrefix+"leftover"), 0o755); err != nil {
		t.Fatal(err)
	}

	list, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries error: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("Entries = %+v, want b first", list)
	}
	if list[0].LastAccess.Unix() != 100 {
		t.Errorf("LastAccess = %v", list[0].LastAccess)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.Entries != 2 || st.Staging != 1 || st.TotalBytes <= 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestEnsureLink(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "cache")
	link := filepath.Join(dir, "static", "viz")

	if err := EnsureLink(link, root); err != nil {
		t.Fatalf("EnsureLink error: %v", err)
	}
	fi, err := os.Lstat(link)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("link not created: %v", err)
	}
	if err := EnsureLink(link, root); err != nil {
		t.Errorf("existing symlink should be accepted: %v", err)
	}

	plain := filepath.Join(dir, "plain")
	if err := os.Mkdir(plain, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := EnsureLink(plain, root); !errors.Is(err, ErrLinkConflict) {
		t.Errorf("err = %v, want ErrLinkConflict", err)
	}
	if err := EnsureLink("", root); err != nil {
		t.Errorf("empty link: %v", err)
	}
}
