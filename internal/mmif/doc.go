// Package mmif reads MMIF annotation bundles.
//
// A bundle is a JSON document holding top-level media documents and a list of
// views, each an ordered collection of typed annotations produced by one
// analysis app. [Parse] decodes a bundle into an [Mmif] value that answers the
// read-only queries the renderer needs: view and annotation lookup (including
// view-qualified "v1:bb3" ids), alignment edges keyed by the pair of
// annotation types they connect, and unit-aware time conversion between
// frames, seconds and milliseconds.
//
// [Classify] labels a view as OCR, ASR or NER so callers can decide how to
// visualize it.
package mmif
