// Package config loads and merges mmifviz configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (MMIFVIZ_CACHE_DIR, MMIFVIZ_CACHE_MAX_BYTES, MMIFVIZ_LOG_LEVEL, etc.)
//  3. Config file ($XDG_CONFIG_HOME/mmifviz/config.json)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged [Config], [Save] to write a config file, and
// [SetField] to update a single dotted key such as "cache.maxBytes".
package config
