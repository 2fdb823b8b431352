package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// ErrLinkConflict is returned when the static link path exists and is not a
// symlink.
var ErrLinkConflict = errors.New("cache: static link path exists and is not a symlink")

// DefaultDir returns the OS-appropriate cache directory for mmifviz.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "mmifviz"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "mmifviz"), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "mmifviz", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "mmifviz", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "mmifviz"), nil
	}
}

// EnsureLink makes link a symlink to root so a static file server can expose
// the cache. An existing symlink is left alone whatever it points to; any
// other file at link is ErrLinkConflict. An empty link is a no-op.
func EnsureLink(link, root string) error {
	if link == "" {
		return nil
	}
	fi, err := os.Lstat(link)
	switch {
	case err == nil && fi.Mode()&fs.ModeSymlink != 0:
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s", ErrLinkConflict, link)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking static link: %w", err)
	}
	target, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving cache root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("creating static link parent: %w", err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("creating static link: %w", err)
	}
	return nil
}
