// Package pagestore persists paginated OCR frame lists.
//
// The default backend writes <view>-pages.json inside the cache entry
// directory, so page lists disappear with their entry. The SQLite and
// PostgreSQL backends keep page lists in a table keyed by (entry, view) and
// rely on the cache evictor's hook to delete rows for evicted entries.
package pagestore
