// Package ocr turns OCR-bearing MMIF views into paginated frame records.
//
// Assembly walks a view's annotations (or its alignment edges, when the view
// contains them) and folds typed [Contribution] values into one [Frame] per
// temporal key with the pure reducer [Apply]. [FindDuplicates] then flags
// frames that repeat their predecessor according to a box/text heuristic, and
// [Paginate] groups the result into pages that never split a repeat run from
// its anchor frame.
//
// Pages are persisted through a [PageRepository] so the backing store can be
// swapped without touching assembly or pagination.
package ocr
