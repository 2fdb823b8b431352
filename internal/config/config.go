package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
)

// Config represents the mmifviz configuration.
type Config struct {
	Format    string          `json:"format"`
	Cache     CacheConfig     `json:"cache"`
	Dedup     DedupConfig     `json:"dedup"`
	Paginate  PaginateConfig  `json:"paginate"`
	Media     MediaConfig     `json:"media"`
	PageStore PageStoreConfig `json:"pageStore"`
	Log       LogConfig       `json:"log"`
}

// CacheConfig controls the visualization cache.
type CacheConfig struct {
	// Dir is the cache root; empty means the platform cache directory.
	Dir      string `json:"dir,omitempty"`
	MaxBytes int64  `json:"maxBytes"`
	// StaticLink, when set, is a symlink kept pointing at Dir so a static
	// file server can expose the cache.
	StaticLink string `json:"staticLink,omitempty"`
}

// DedupConfig tunes duplicate-frame detection.
type DedupConfig struct {
	BoxGrid       float64 `json:"boxGrid"`
	WindowSeconds float64 `json:"windowSeconds"`
	MaxBoxDelta   int     `json:"maxBoxDelta"`
}

// PaginateConfig controls page sizes.
type PaginateConfig struct {
	AnchorsPerPage int `json:"anchorsPerPage"`
}

// MediaConfig controls frame extraction.
type MediaConfig struct {
	FFmpeg             string  `json:"ffmpeg"`
	FFprobe            string  `json:"ffprobe"`
	HistogramThreshold float64 `json:"histogramThreshold"`
	JPEGQuality        int     `json:"jpegQuality"`
}

// PageStoreConfig selects where page lists are kept.
type PageStoreConfig struct {
	Backend string `json:"backend"`
	DSN     string `json:"dsn,omitempty"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level   string `json:"level"`
	NoColor bool   `json:"noColor"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Format: "text",
		Cache: CacheConfig{
			MaxBytes: 500_000_000,
		},
		Dedup: DedupConfig{
			BoxGrid:       100,
			WindowSeconds: 10,
			MaxBoxDelta:   3,
		},
		Paginate: PaginateConfig{AnchorsPerPage: 4},
		Media: MediaConfig{
			FFmpeg:             "ffmpeg",
			FFprobe:            "ffprobe",
			HistogramThreshold: 50,
			JPEGQuality:        90,
		},
		PageStore: PageStoreConfig{Backend: "fs"},
		Log:       LogConfig{Level: "info"},
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", c.Format)
	}
	switch c.PageStore.Backend {
	case "fs":
	case "sqlite", "postgres":
		if c.PageStore.DSN == "" {
			return fmt.Errorf("pageStore.dsn is required for the %s backend", c.PageStore.Backend)
		}
	default:
		return fmt.Errorf("pageStore.backend must be fs, sqlite or postgres, got %q", c.PageStore.Backend)
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.maxBytes must be positive")
	}
	if c.Dedup.BoxGrid <= 0 {
		return fmt.Errorf("dedup.boxGrid must be positive")
	}
	if c.Dedup.WindowSeconds < 0 {
		return fmt.Errorf("dedup.windowSeconds must not be negative")
	}
	if c.Dedup.MaxBoxDelta < 0 {
		return fmt.Errorf("dedup.maxBoxDelta must not be negative")
	}
	if c.Paginate.AnchorsPerPage <= 0 {
		return fmt.Errorf("paginate.anchorsPerPage must be positive")
	}
	if c.Media.JPEGQuality < 1 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("media.jpegQuality must be between 1 and 100")
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory for mmifviz.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mmifviz"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "mmifviz"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "mmifviz"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "mmifviz"), nil
	default:
		return filepath.Join(home, ".config", "mmifviz"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadFile loads config from the config file. Keys the file leaves out keep
// their defaults; a missing file yields Default().
func LoadFile() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags and is keyed like SetField.
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	fileCfg, err := LoadFile()
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(dst *Config, src Config) {
	if src.Format != "" {
		dst.Format = src.Format
	}
	if src.Cache.Dir != "" {
		dst.Cache.Dir = src.Cache.Dir
	}
	if src.Cache.MaxBytes > 0 {
		dst.Cache.MaxBytes = src.Cache.MaxBytes
	}
	if src.Cache.StaticLink != "" {
		dst.Cache.StaticLink = src.Cache.StaticLink
	}
	if src.Dedup.BoxGrid > 0 {
		dst.Dedup.BoxGrid = src.Dedup.BoxGrid
	}
	// Zero is a meaningful window and delta. LoadFile fills keys the file
	// omits from Default, so these are copied as written.
	dst.Dedup.WindowSeconds = src.Dedup.WindowSeconds
	dst.Dedup.MaxBoxDelta = src.Dedup.MaxBoxDelta
	if src.Paginate.AnchorsPerPage > 0 {
		dst.Paginate.AnchorsPerPage = src.Paginate.AnchorsPerPage
	}
	if src.Media.FFmpeg != "" {
		dst.Media.FFmpeg = src.Media.FFmpeg
	}
	if src.Media.FFprobe != "" {
		dst.Media.FFprobe = src.Media.FFprobe
	}
	if src.Media.HistogramThreshold > 0 {
		dst.Media.HistogramThreshold = src.Media.HistogramThreshold
	}
	if src.Media.JPEGQuality > 0 {
		dst.Media.JPEGQuality = src.Media.JPEGQuality
	}
	if src.PageStore.Backend != "" {
		dst.PageStore.Backend = src.PageStore.Backend
	}
	if src.PageStore.DSN != "" {
		dst.PageStore.DSN = src.PageStore.DSN
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	// A file can only turn color off; false is indistinguishable from unset.
	dst.Log.NoColor = src.Log.NoColor || dst.Log.NoColor
}

// envKeys maps environment variables to SetField keys.
var envKeys = map[string]string{
	"MMIFVIZ_FORMAT":              "format",
	"MMIFVIZ_CACHE_DIR":           "cache.dir",
	"MMIFVIZ_CACHE_MAX_BYTES":     "cache.maxBytes",
	"MMIFVIZ_STATIC_LINK":         "cache.staticLink",
	"MMIFVIZ_ANCHORS_PER_PAGE":    "paginate.anchorsPerPage",
	"MMIFVIZ_FFMPEG":              "media.ffmpeg",
	"MMIFVIZ_FFPROBE":             "media.ffprobe",
	"MMIFVIZ_HISTOGRAM_THRESHOLD": "media.histogramThreshold",
	"MMIFVIZ_PAGESTORE_BACKEND":   "pageStore.backend",
	"MMIFVIZ_PAGESTORE_DSN":       "pageStore.dsn",
	"MMIFVIZ_LOG_LEVEL":           "log.level",
}

func mergeEnv(cfg *Config) error {
	for _, env := range sortedKeys(envKeys) {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, envKeys[env], v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.Log.NoColor = true
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	for _, key := range sortedKeys(overrides) {
		v := overrides[key]
		if v == "" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keys lists every key SetField accepts.
func Keys() []string {
	return []string{
		"format",
		"cache.dir", "cache.maxBytes", "cache.staticLink",
		"dedup.boxGrid", "dedup.windowSeconds", "dedup.maxBoxDelta",
		"paginate.anchorsPerPage",
		"media.ffmpeg", "media.ffprobe", "media.histogramThreshold", "media.jpegQuality",
		"pageStore.backend", "pageStore.dsn",
		"log.level", "log.noColor",
	}
}

// SetField sets a single config field by dotted key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "format":
		cfg.Format = value
	case "cache.dir":
		cfg.Cache.Dir = value
	case "cache.maxBytes":
		cfg.Cache.MaxBytes, err = strconv.ParseInt(value, 10, 64)
	case "cache.staticLink":
		cfg.Cache.StaticLink = value
	case "dedup.boxGrid":
		cfg.Dedup.BoxGrid, err = strconv.ParseFloat(value, 64)
	case "dedup.windowSeconds":
		cfg.Dedup.WindowSeconds, err = strconv.ParseFloat(value, 64)
	case "dedup.maxBoxDelta":
		cfg.Dedup.MaxBoxDelta, err = strconv.Atoi(value)
	case "paginate.anchorsPerPage":
		cfg.Paginate.AnchorsPerPage, err = strconv.Atoi(value)
	case "media.ffmpeg":
		cfg.Media.FFmpeg = value
	case "media.ffprobe":
		cfg.Media.FFprobe = value
	case "media.histogramThreshold":
		cfg.Media.HistogramThreshold, err = strconv.ParseFloat(value, 64)
	case "media.jpegQuality":
		cfg.Media.JPEGQuality, err = strconv.Atoi(value)
	case "pageStore.backend":
		cfg.PageStore.Backend = value
	case "pageStore.dsn":
		cfg.PageStore.DSN = value
	case "log.level":
		cfg.Log.Level = value
	case "log.noColor":
		cfg.Log.NoColor, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}
