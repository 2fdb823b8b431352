// Package vtt writes WebVTT caption tracks from speech recognition views.
package vtt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/mmifviz/internal/mmif"
)

// WordsPerCue is the number of aligned words collected before a cue is
// written.
const WordsPerCue = 9

// Write renders the view's TimeFrame -> Token alignments as WebVTT cues of
// WordsPerCue words each; a shorter final cue holds the remainder. Times are
// read in the view's timeUnit (milliseconds when unset) and converted at fps.
// Alignments whose ends do not resolve in the view are skipped.
func Write(w io.Writer, view *mmif.View, fps float64) error {
	unit := viewUnit(view)
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n\n")

	var (
		words []string
		start float64
	)
	flush := func(end float64) error {
		s, err := mmif.Convert(start, unit, mmif.Milliseconds, fps)
		if err != nil {
			return err
		}
		e, err := mmif.Convert(end, unit, mmif.Milliseconds, fps)
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "%s --> %s\n%s\n\n", FormatTime(s), FormatTime(e), strings.Join(words, " "))
		words = words[:0]
		return nil
	}

	var lastEnd float64
	for _, al := range view.AnnotationsOf(mmif.TypeAlignment) {
		s, e, word, ok := cue(view, al)
		if !ok {
			continue
		}
		if len(words) == 0 {
			start = s
		}
		words = append(words, word)
		lastEnd = e
		if len(words) >= WordsPerCue {
			if err := flush(e); err != nil {
				return err
			}
		}
	}
	if len(words) > 0 {
		if err := flush(lastEnd); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func cue(view *mmif.View, al *mmif.Annotation) (start, end float64, word string, ok bool) {
	src, _ := al.Properties.String("source")
	tgt, _ := al.Properties.String("target")
	tf, okF := local(view, src)
	tok, okT := local(view, tgt)
	if !okF || !okT || !tf.Is(mmif.TypeTimeFrame) || !tok.Is(mmif.TypeToken) {
		return 0, 0, "", false
	}
	start, okS := tf.Properties.Float("start")
	end, okE := tf.Properties.Float("end")
	word, okW := tok.Properties.String("word")
	return start, end, word, okS && okE && okW
}

// local resolves ref within view, accepting a view-qualified id for it.
func local(view *mmif.View, ref string) (*mmif.Annotation, bool) {
	if v, id, found := strings.Cut(ref, mmif.IDDelimiter); found {
		if v != view.ID {
			return nil, false
		}
		ref = id
	}
	return view.Annotation(ref)
}

func viewUnit(view *mmif.View) mmif.Unit {
	for _, short := range []string{mmif.TypeTimeFrame, mmif.TypeToken, mmif.TypeAlignment} {
		if meta, ok := view.ContainsMeta(short); ok {
			if s, ok := meta["timeUnit"].(string); ok {
				if u, err := mmif.ParseUnit(s); err == nil {
					return u
				}
			}
		}
	}
	return mmif.Milliseconds
}

// FormatTime renders milliseconds as HH:MM:SS.mmm, truncating fractions.
func FormatTime(ms float64) string {
	n := int64(ms)
	h := n / 3_600_000
	n %= 3_600_000
	m := n / 60_000
	n %= 60_000
	s := n / 1000
	n %= 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, n)
}
