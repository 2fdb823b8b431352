package ocr

import (
	"math"
	"slices"
)

// DedupOptions tunes the repeat-frame heuristic.
type DedupOptions struct {
	// BoxGrid is the grid coordinates are rounded to before comparing boxes.
	BoxGrid float64
	// WindowSeconds bounds how far apart two frames with a shared box may be.
	WindowSeconds float64
	// MaxBoxDelta is the largest allowed difference in box counts.
	MaxBoxDelta int
}

// DefaultDedupOptions returns the thresholds the viewer has always used.
func DefaultDedupOptions() DedupOptions {
	return DedupOptions{BoxGrid: 100, WindowSeconds: 10, MaxBoxDelta: 3}
}

// FindDuplicates flags each frame-number keyed frame that repeats the frame
// before it. Range-keyed frames are neither flagged nor used as predecessors.
// The input is not modified.
func FindDuplicates(frames []KeyedFrame, opts DedupOptions) []KeyedFrame {
	out := make([]KeyedFrame, len(frames))
	copy(out, frames)
	var prev *Frame
	for i := range out {
		if out[i].Key.IsRange {
			continue
		}
		if IsDuplicate(prev, &out[i].Frame, opts) {
			out[i].Frame.Repeat = true
		}
		prev = &out[i].Frame
	}
	return out
}

// IsDuplicate reports whether cur repeats prev: same box types, similar box
// counts, and either a shared rounded box within the time window or shared
// text.
func IsDuplicate(prev, cur *Frame, opts DedupOptions) bool {
	if prev == nil {
		return false
	}
	if !sameSet(prev.BoxTypes, cur.BoxTypes) {
		return false
	}
	delta := len(prev.Boxes) - len(cur.Boxes)
	if delta < 0 {
		delta = -delta
	}
	if delta > opts.MaxBoxDelta {
		return false
	}

	if withinWindow(prev, cur, opts.WindowSeconds) {
		rounded := RoundBoxes(prev.Boxes, opts.BoxGrid)
		for _, b := range RoundBoxes(cur.Boxes, opts.BoxGrid) {
			if slices.Contains(rounded, b) {
				return true
			}
		}
	}

	if len(prev.Text) == 0 || len(cur.Text) == 0 {
		return false
	}
	for _, t := range cur.Text {
		if slices.Contains(prev.Text, t) {
			return true
		}
	}
	return false
}

func withinWindow(prev, cur *Frame, window float64) bool {
	if prev.Secs == nil || cur.Secs == nil {
		return false
	}
	return *cur.Secs-*prev.Secs < window
}

// RoundBoxes snaps each box's [x, y, w, h] to the nearest multiple of grid,
// rounding halves to even.
func RoundBoxes(boxes []Box, grid float64) [][4]float64 {
	if grid <= 0 {
		grid = 1
	}
	snap := func(v float64) float64 { return math.RoundToEven(v/grid) * grid }
	out := make([][4]float64, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, [4]float64{snap(b.X), snap(b.Y), snap(b.W), snap(b.H)})
	}
	return out
}

func sameSet(a, b []string) bool {
	for _, s := range a {
		if !slices.Contains(b, s) {
			return false
		}
	}
	for _, s := range b {
		if !slices.Contains(a, s) {
			return false
		}
	}
	return true
}
