package ocr

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/dshills/mmifviz/internal/mmif"
)

// Index is the read-only view of a bundle the assembler needs.
// *mmif.Mmif implements it.
type Index interface {
	View(id string) (*mmif.View, bool)
	Resolve(ref string, from *mmif.View) (*mmif.Annotation, bool)
	Alignments(a, b string) []*mmif.Annotation
	TimePoint(a *mmif.Annotation, out mmif.Unit) (float64, error)
	TimeFrame(a *mmif.Annotation, out mmif.Unit) (float64, float64, error)
}

// Drop reasons recorded in Stats.
const (
	ReasonUnresolved      = "unresolved reference"
	ReasonNoKey           = "no temporal key"
	ReasonBadTime         = "undecodable time"
	ReasonBadCoordinates  = "bad coordinates"
	ReasonMissingBoxType  = "missing box type"
	ReasonSuperseded      = "time point superseded by time frames"
	ReasonUnsupportedType = "unsupported annotation type"
)

// Stats counts what assembly kept and dropped.
type Stats struct {
	Frames        int            `json:"frames"`
	Contributions int            `json:"contributions"`
	Dropped       int            `json:"dropped"`
	Reasons       map[string]int `json:"reasons,omitempty"`
}

func (s *Stats) drop(reason string) {
	if s.Reasons == nil {
		s.Reasons = make(map[string]int)
	}
	s.Dropped++
	s.Reasons[reason]++
}

// Assembler builds frames from one view.
type Assembler struct {
	idx    Index
	logger *slog.Logger

	// boxPoints maps a box's view-qualified id to the other end of its first
	// BoundingBox/TimePoint alignment. Built once per Assemble.
	boxPoints map[string]alignedRef
}

type alignedRef struct {
	ref  string
	view *mmif.View
}

// NewAssembler returns an assembler over idx. A nil logger discards output.
func NewAssembler(idx Index, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assembler{idx: idx, logger: logger}
}

// Assemble returns the view's frames ordered by key. Views that contain
// alignments are assembled edge by edge; others annotation by annotation.
// Contributions that cannot be resolved are dropped and counted.
func (a *Assembler) Assemble(view *mmif.View) ([]KeyedFrame, Stats) {
	var st Stats
	frames := make(map[Key]Frame)
	var order []Key
	a.boxPoints = nil

	// put stores cs at their key. Drops recorded since mark already explain
	// a missing key, so it is only counted when nothing else was.
	put := func(cs []Contribution, what string, mark int) {
		if len(cs) == 0 {
			return
		}
		f := Fold(NewFrame(), cs)
		key, ok := f.Key()
		if !ok {
			if st.Dropped == mark {
				st.drop(ReasonNoKey)
			}
			a.logger.Debug("dropping contribution without temporal key", "view", view.ID, "annotation", what)
			return
		}
		st.Contributions += len(cs)
		if existing, ok := frames[key]; ok {
			frames[key] = Fold(existing, cs)
			return
		}
		frames[key] = f
		order = append(order, key)
	}

	if view.Contains(mmif.TypeAlignment) {
		for _, al := range view.AnnotationsOf(mmif.TypeAlignment) {
			mark := st.Dropped
			srcRef, _ := al.Properties.String("source")
			tgtRef, _ := al.Properties.String("target")
			src, okS := a.idx.Resolve(srcRef, view)
			tgt, okT := a.idx.Resolve(tgtRef, view)
			if !okS || !okT {
				st.drop(ReasonUnresolved)
				a.logger.Debug("alignment endpoint not found", "view", view.ID, "alignment", al.ID(), "source", srcRef, "target", tgtRef)
				continue
			}
			// A time point aligned directly to text is always the frame's anchor.
			forcePoint := tgt.Is(mmif.TypeTextDocument) && src.Is(mmif.TypeTimePoint)
			cs := a.contributions(src, forcePoint, &st)
			cs = append(cs, a.contributions(tgt, false, &st)...)
			put(cs, al.LongID(), mark)
		}
	} else {
		for _, ann := range view.Annotations {
			mark := st.Dropped
			put(a.contributions(ann, false, &st), ann.LongID(), mark)
		}
	}

	out := make([]KeyedFrame, 0, len(order))
	for _, k := range order {
		out = append(out, KeyedFrame{Key: k, Frame: frames[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	st.Frames = len(out)

	if st.Dropped > 0 {
		a.logger.Info("assembled frames with dropped contributions",
			"view", view.ID, "frames", st.Frames, "dropped", st.Dropped, "reasons", st.Reasons)
	} else {
		a.logger.Debug("assembled frames", "view", view.ID, "frames", st.Frames)
	}
	return out, st
}

// contributions returns what one annotation adds to a frame.
func (a *Assembler) contributions(ann *mmif.Annotation, forcePoint bool, st *Stats) []Contribution {
	switch ann.Type.ShortName() {
	case mmif.TypeBoundingBox:
		return a.boxContributions(ann, st)
	case mmif.TypeTimeFrame:
		c, err := a.timeFrame(ann)
		if err != nil {
			st.drop(ReasonBadTime)
			a.logger.Debug("undecodable time frame", "annotation", ann.LongID(), "error", err)
			return nil
		}
		return []Contribution{c}
	case mmif.TypeTimePoint:
		if !forcePoint {
			if v, ok := a.idx.View(ann.Parent); ok && v.Contains(mmif.TypeTimeFrame) {
				st.drop(ReasonSuperseded)
				return nil
			}
		}
		c, err := a.timePoint(ann)
		if err != nil {
			st.drop(ReasonBadTime)
			a.logger.Debug("undecodable time point", "annotation", ann.LongID(), "error", err)
			return nil
		}
		return []Contribution{c}
	case mmif.TypeTextDocument:
		return []Contribution{{Kind: TextUpdate, Text: ann.TextValue()}}
	case mmif.TypeParagraph:
		doc, ok := a.paragraphDocument(ann)
		if !ok {
			st.drop(ReasonUnresolved)
			return nil
		}
		return []Contribution{{Kind: TextUpdate, Text: doc.TextValue()}}
	}
	st.drop(ReasonUnsupportedType)
	return nil
}

func (a *Assembler) paragraphDocument(ann *mmif.Annotation) (*mmif.Annotation, bool) {
	ref, ok := ann.Properties.String("document")
	if !ok {
		return nil, false
	}
	v, ok := a.idx.View(ann.Parent)
	if !ok {
		return nil, false
	}
	return a.idx.Resolve(ref, v)
}

func (a *Assembler) boxContributions(ann *mmif.Annotation, st *Stats) []Contribution {
	var cs []Contribution
	// A box with no time point reference at all is left to the caller's
	// missing-key count.
	switch tp, referenced, ok := a.boxTimePoint(ann); {
	case ok:
		c, err := a.timePoint(tp)
		if err != nil {
			st.drop(ReasonBadTime)
		} else {
			cs = append(cs, c)
		}
	case referenced:
		st.drop(ReasonUnresolved)
	}

	box, err := parseBox(ann)
	if err != nil {
		st.drop(ReasonBadCoordinates)
		a.logger.Debug("bad box coordinates", "annotation", ann.LongID(), "error", err)
		return cs
	}
	if box.Type == "" {
		st.drop(ReasonMissingBoxType)
	}
	return append(cs, Contribution{Kind: BoxUpdate, Box: box})
}

// boxTimePoint follows the box's timePoint property, or else the first
// BoundingBox/TimePoint alignment touching the box in either direction.
// referenced reports whether the box names a time point at all.
func (a *Assembler) boxTimePoint(ann *mmif.Annotation) (tp *mmif.Annotation, referenced, ok bool) {
	if ref, found := ann.Properties.String("timePoint"); found {
		parent, _ := a.idx.View(ann.Parent)
		tp, ok = a.idx.Resolve(ref, parent)
		return tp, true, ok
	}
	if a.boxPoints == nil {
		a.boxPoints = a.indexBoxPoints()
	}
	other, found := a.boxPoints[ann.LongID()]
	if !found {
		return nil, false, false
	}
	tp, ok = a.idx.Resolve(other.ref, other.view)
	return tp, true, ok
}

// indexBoxPoints keys every BoundingBox/TimePoint alignment by both of its
// endpoints, qualified with the alignment's view. The first alignment for an
// endpoint wins.
func (a *Assembler) indexBoxPoints() map[string]alignedRef {
	out := make(map[string]alignedRef)
	for _, al := range a.idx.Alignments(mmif.TypeBoundingBox, mmif.TypeTimePoint) {
		alView, _ := a.idx.View(al.Parent)
		src, _ := al.Properties.String("source")
		tgt, _ := al.Properties.String("target")
		for _, pair := range [][2]string{{src, tgt}, {tgt, src}} {
			key := qualify(pair[0], alView)
			if _, seen := out[key]; !seen {
				out[key] = alignedRef{ref: pair[1], view: alView}
			}
		}
	}
	return out
}

// qualify returns ref as a view-qualified id when it is written as a plain id
// inside view.
func qualify(ref string, view *mmif.View) string {
	if view == nil || strings.Contains(ref, mmif.IDDelimiter) {
		return ref
	}
	return view.ID + mmif.IDDelimiter + ref
}

func (a *Assembler) timePoint(ann *mmif.Annotation) (Contribution, error) {
	frames, err := a.idx.TimePoint(ann, mmif.Frames)
	if err != nil {
		return Contribution{}, err
	}
	secs, err := a.idx.TimePoint(ann, mmif.Seconds)
	if err != nil {
		return Contribution{}, err
	}
	label, _ := ann.Properties.String("label")
	return Contribution{Kind: TimePointUpdate, FrameNum: int(frames), Secs: secs, Label: label}, nil
}

// timeFrame uses the first and last targets as boundaries when the frame
// lists targets, and its own start/end otherwise.
func (a *Assembler) timeFrame(ann *mmif.Annotation) (Contribution, error) {
	var c Contribution
	c.Kind = TimeFrameUpdate
	if targets, ok := ann.Properties.Strings("targets"); ok && len(targets) > 0 {
		parent, _ := a.idx.View(ann.Parent)
		first, okF := a.idx.Resolve(targets[0], parent)
		last, okL := a.idx.Resolve(targets[len(targets)-1], parent)
		if !okF || !okL {
			return c, fmt.Errorf("time frame %s: target not found", ann.LongID())
		}
		var startF, endF float64
		var err error
		if startF, err = a.idx.TimePoint(first, mmif.Frames); err != nil {
			return c, err
		}
		if endF, err = a.idx.TimePoint(last, mmif.Frames); err != nil {
			return c, err
		}
		if c.SecRange[0], err = a.idx.TimePoint(first, mmif.Seconds); err != nil {
			return c, err
		}
		if c.SecRange[1], err = a.idx.TimePoint(last, mmif.Seconds); err != nil {
			return c, err
		}
		c.Range = [2]int{int(startF), int(endF)}
	} else {
		startF, endF, err := a.idx.TimeFrame(ann, mmif.Frames)
		if err != nil {
			return c, err
		}
		c.Range = [2]int{int(startF), int(endF)}
		if c.SecRange[0], c.SecRange[1], err = a.idx.TimeFrame(ann, mmif.Seconds); err != nil {
			return c, err
		}
	}
	if ft, ok := ann.Properties["frameType"]; ok && ft != nil && ft != "" {
		c.Label = fmt.Sprint(ft)
	} else if label, ok := ann.Properties.String("label"); ok {
		c.Label = label
	}
	return c, nil
}

// parseBox reads the bounding rectangle of a polygon given as [[x, y], ...].
func parseBox(ann *mmif.Annotation) (Box, error) {
	raw, ok := ann.Properties["coordinates"].([]any)
	if !ok || len(raw) < 2 {
		return Box{}, fmt.Errorf("coordinates missing or too short")
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range raw {
		pt, ok := p.([]any)
		if !ok || len(pt) < 2 {
			return Box{}, fmt.Errorf("coordinate %v is not a point", p)
		}
		x, okX := mmif.Number(pt[0])
		y, okY := mmif.Number(pt[1])
		if !okX || !okY {
			return Box{}, fmt.Errorf("coordinate %v is not numeric", p)
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	boxType, _ := ann.Properties.String("boxType")
	return Box{ID: ann.ID(), Type: boxType, X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, nil
}
