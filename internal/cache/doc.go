// Package cache stores rendered visualizations in a content-addressed,
// size-bounded directory tree.
//
// Each uploaded bundle gets one entry directory named by the lowercase hex
// SHA-256 of its bytes. An entry holds the bundle (file.mmif), the index
// page, a last-access marker, and whatever page lists, caption tracks and
// frame images have been produced for it since. Entries are created by
// staging the bundle in a hidden directory and renaming it into place, so a
// visible entry always has its bundle.
//
// The Evictor keeps the tree under a byte budget by deleting the least
// recently accessed entries. It runs on a single worker goroutine and
// coalesces requests that arrive while a scan is already pending.
package cache
