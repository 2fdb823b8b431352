// Package render connects the cache, the OCR frame engine and the media
// materializer.
//
// Upload stores a bundle, prepares page lists for its OCR views, writes
// caption tracks for its ASR views and renders the entry's index page.
// RenderPage later materializes one page of frames and renders it as HTML.
// A page request for an entry that has been evicted fails with
// ErrCacheMiss; the bundle has to be uploaded again.
package render
