package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/ocr"
)

// Files inside an entry directory.
const (
	BundleFile = "file.mmif"
	IndexFile  = "index.html"
	MarkerFile = "last_access.txt"
	ImageDir   = "img"
)

const stagingPrefix = ".staging-"

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("cache: entry not found")

// ErrInvalidID is returned for ids that are not a lowercase hex SHA-256.
var ErrInvalidID = errors.New("cache: invalid entry id")

// PathConflictError reports an entry path occupied by something that is not
// a directory.
type PathConflictError struct {
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("cache path %q exists and is not a directory", e.Path)
}

// IsPathConflict reports whether err is a *PathConflictError.
func IsPathConflict(err error) bool {
	var e *PathConflictError
	return errors.As(err, &e)
}

// Entry is one cached visualization.
type Entry struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

// BundlePath is the stored bundle.
func (e Entry) BundlePath() string { return filepath.Join(e.Dir, BundleFile) }

// IndexPath is the rendered index page.
func (e Entry) IndexPath() string { return filepath.Join(e.Dir, IndexFile) }

// PagesPath is the page-list file for a view.
func (e Entry) PagesPath(viewID string) string {
	return filepath.Join(e.Dir, ocr.PagesFileName(viewID))
}

// CaptionPath is the WebVTT track for a view.
func (e Entry) CaptionPath(viewID string) string {
	return filepath.Join(e.Dir, ocr.SafeViewID(viewID)+".vtt")
}

// ImagePath is the directory holding a view's materialized frames.
func (e Entry) ImagePath(viewID string) string {
	return filepath.Join(e.Dir, ImageDir, ocr.SafeViewID(viewID))
}

// Store is a cache rooted at one directory. It holds no in-memory state
// besides the root, so several Stores (or processes) may share a tree.
type Store struct {
	root string
	now  func() time.Time
}

// New opens the cache at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		root = d
	}
	if err := fsx.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// Root returns the cache directory.
func (s *Store) Root() string { return s.root }

// HashKey returns the entry id for bundle bytes.
func HashKey(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ValidID reports whether id is a lowercase hex SHA-256.
func ValidID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (s *Store) entry(id string) (Entry, error) {
	if !ValidID(id) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Entry{ID: id, Dir: filepath.Join(s.root, id)}, nil
}

// OpenOrCreate returns the entry for id, creating it with bundle when it does
// not exist. created is false when the entry already existed, including when
// a concurrent caller created it first.
func (s *Store) OpenOrCreate(id string, bundle []byte) (Entry, bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return Entry{}, false, err
	}
	if ok, err := isEntryDir(e.Dir); err != nil {
		return Entry{}, false, err
	} else if ok {
		return e, false, nil
	}

	staging := filepath.Join(s.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return Entry{}, false, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := fsx.WriteFileAtomic(staging, BundleFile, bundle); err != nil {
		return Entry{}, false, fmt.Errorf("writing bundle: %w", err)
	}
	if err := fsx.WriteFileAtomic(staging, MarkerFile, s.marker(s.now())); err != nil {
		return Entry{}, false, fmt.Errorf("writing access marker: %w", err)
	}

	if err := fsx.Rename(staging, e.Dir); err != nil {
		// Lost the race: the winner's directory is now in place.
		if ok, statErr := isEntryDir(e.Dir); statErr == nil && ok {
			return e, false, nil
		}
		return Entry{}, false, fmt.Errorf("publishing entry %s: %w", id, err)
	}
	return e, true, nil
}

// Lookup returns the entry for id, or ErrNotFound.
func (s *Store) Lookup(id string) (Entry, error) {
	e, err := s.entry(id)
	if err != nil {
		return Entry{}, err
	}
	ok, err := isEntryDir(e.Dir)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Touch records an access to e. It returns ErrNotFound when the entry has
// been deleted and never recreates its directory.
func (s *Store) Touch(e Entry) error {
	return s.touchAt(e, s.now())
}

func (s *Store) touchAt(e Entry, t time.Time) error {
	err := fsx.WriteFileAtomic(e.Dir, MarkerFile, s.marker(t))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	if err != nil {
		return fmt.Errorf("touching %s: %w", e.ID, err)
	}
	return nil
}

// marker formats t as Unix seconds with a fractional part.
func (s *Store) marker(t time.Time) []byte {
	secs := float64(t.UnixNano()) / 1e9
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64))
}

// TotalSize returns the bytes used by every regular file under the root.
func (s *Store) TotalSize() (int64, error) {
	n, err := fsx.DirSize(s.root)
	if err != nil {
		return 0, fmt.Errorf("sizing cache: %w", err)
	}
	return n, nil
}

// Oldest returns the least recently accessed entry. An entry without a
// marker counts as never accessed and is returned immediately; an entry whose
// marker is empty or unparsable is being rewritten and is skipped.
func (s *Store) Oldest() (Entry, bool, error) {
	dirs, err := s.entryNames()
	if err != nil {
		return Entry{}, false, err
	}
	var (
		oldest Entry
		found  bool
		at     float64
	)
	for _, id := range dirs {
		e := Entry{ID: id, Dir: filepath.Join(s.root, id)}
		t, ok, err := readMarker(e)
		if errors.Is(err, fs.ErrNotExist) {
			return e, true, nil
		}
		if err != nil || !ok {
			continue
		}
		if !found || t < at {
			oldest, at, found = e, t, true
		}
	}
	return oldest, found, nil
}

func readMarker(e Entry) (float64, bool, error) {
	data, err := os.ReadFile(filepath.Join(e.Dir, MarkerFile))
	if err != nil {
		return 0, false, err
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false, nil
	}
	return t, true, nil
}

// Delete removes e. Deleting a missing entry is not an error.
func (s *Store) Delete(e Entry) error {
	if err := os.RemoveAll(e.Dir); err != nil {
		return fmt.Errorf("deleting %s: %w", e.ID, err)
	}
	return nil
}

// InvalidateAll deletes the given entries, or the whole cache when no ids are
// given.
func (s *Store) InvalidateAll(ids ...string) error {
	if len(ids) == 0 {
		if err := os.RemoveAll(s.root); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		return fsx.EnsureDir(s.root)
	}
	for _, id := range ids {
		e, err := s.entry(id)
		if err != nil {
			return err
		}
		if err := s.Delete(e); err != nil {
			return err
		}
	}
	return nil
}

// EntryInfo describes an entry for listing.
type EntryInfo struct {
	Entry
	Bytes      int64     `json:"bytes"`
	LastAccess time.Time `json:"lastAccess"`
}

// Entries lists entries, least recently accessed first. Entries without a
// readable marker sort first with a zero LastAccess.
func (s *Store) Entries() ([]EntryInfo, error) {
	names, err := s.entryNames()
	if err != nil {
		return nil, err
	}
	out := make([]EntryInfo, 0, len(names))
	for _, id := range names {
		e := Entry{ID: id, Dir: filepath.Join(s.root, id)}
		size, err := fsx.DirSize(e.Dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sizing %s: %w", id, err)
		}
		info := EntryInfo{Entry: e, Bytes: size}
		if t, ok, _ := readMarker(e); ok {
			sec, frac := splitSeconds(t)
			info.LastAccess = time.Unix(sec, frac).UTC()
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastAccess.Before(out[j].LastAccess) })
	return out, nil
}

func splitSeconds(t float64) (int64, int64) {
	sec := int64(t)
	return sec, int64((t - float64(sec)) * 1e9)
}

// Stats summarizes the cache.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Staging    int    `json:"staging"`
}

// Stats returns entry counts and the total size on disk.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Dir: s.root}
	all, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, d := range all {
		switch {
		case strings.HasPrefix(d.Name(), stagingPrefix):
			st.Staging++
		case d.IsDir() && ValidID(d.Name()):
			st.Entries++
		}
	}
	if st.TotalBytes, err = s.TotalSize(); err != nil {
		return st, err
	}
	return st, nil
}

// entryNames returns the ids of the entry directories under the root.
// Hidden names (staging directories, temp files) are not entries.
func (s *Store) entryNames() ([]string, error) {
	all, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}
	var out []string
	for _, d := range all {
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			out = append(out, d.Name())
		}
	}
	return out, nil
}

func isEntryDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking %s: %w", path, err)
	case !fi.IsDir():
		return false, &PathConflictError{Path: path}
	}
	return true, nil
}
