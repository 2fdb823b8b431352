// Package cli wires together the Cobra command tree for the mmifviz binary.
//
// It defines the root command and all subcommands (upload, page, cache,
// config, version), binds flags, reads configuration, builds the cache, page
// store, evictor and render pipeline, and returns deterministic exit codes:
// 0 on success, 2 for usage errors, 3 when a visualization is no longer
// cached and 4 for any other failure.
package cli
