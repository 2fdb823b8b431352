package mmif

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultFPS is assumed when a video document does not record its frame rate.
const DefaultFPS = 29.97

// Unit is a time unit used by time points and time frames.
type Unit string

const (
	Frames       Unit = "frames"
	Seconds      Unit = "seconds"
	Milliseconds Unit = "milliseconds"
)

// ErrUnknownUnit is returned for a timeUnit value that cannot be converted.
var ErrUnknownUnit = errors.New("mmif: unknown time unit")

// ParseUnit normalizes timeUnit spellings ("frame", "second", "ms", ...).
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frame", "frames":
		return Frames, nil
	case "second", "seconds", "sec", "s":
		return Seconds, nil
	case "millisecond", "milliseconds", "ms":
		return Milliseconds, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

// Convert converts t from one unit to another at the given frame rate.
// Frame outputs are truncated to whole frames.
func Convert(t float64, in, out Unit, fps float64) (float64, error) {
	if in == out {
		return t, nil
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	var secs float64
	switch in {
	case Frames:
		secs = t / fps
	case Seconds:
		secs = t
	case Milliseconds:
		secs = t / 1000
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, in)
	}
	switch out {
	case Frames:
		return math.Trunc(secs * fps), nil
	case Seconds:
		return secs, nil
	case Milliseconds:
		return secs * 1000, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, out)
}

// TimeUnit returns the unit an annotation's times are expressed in: its own
// timeUnit property, else the view's contains metadata, else milliseconds.
func (m *Mmif) TimeUnit(a *Annotation) (Unit, error) {
	if s, ok := a.Properties.String("timeUnit"); ok {
		return ParseUnit(s)
	}
	if v, ok := m.views[a.Parent]; ok {
		if meta, ok := v.ContainsMeta(a.Type.ShortName()); ok {
			if s, ok := meta["timeUnit"].(string); ok {
				return ParseUnit(s)
			}
		}
	}
	return Milliseconds, nil
}

// FPS returns the frame rate of the video document an annotation refers to,
// falling back to the first video document and then to DefaultFPS.
func (m *Mmif) FPS(a *Annotation) float64 {
	if doc := m.sourceDocument(a); doc != nil {
		if fps, ok := doc.Properties.Float("fps"); ok && fps > 0 {
			return fps
		}
	}
	for _, d := range m.DocumentsOf(TypeVideoDocument) {
		if fps, ok := d.Properties.Float("fps"); ok && fps > 0 {
			return fps
		}
	}
	return DefaultFPS
}

func (m *Mmif) sourceDocument(a *Annotation) *Annotation {
	ref, ok := a.Properties.String("document")
	if !ok {
		if v, found := m.views[a.Parent]; found {
			if meta, found := v.ContainsMeta(a.Type.ShortName()); found {
				ref, ok = meta["document"].(string)
			}
		}
	}
	if !ok {
		return nil
	}
	if d, found := m.docs[ref]; found {
		return d
	}
	if d, found := m.Lookup(ref); found {
		return d
	}
	return nil
}

// TimePoint converts a TimePoint annotation's timePoint into out units.
func (m *Mmif) TimePoint(a *Annotation, out Unit) (float64, error) {
	t, ok := a.Properties.Float("timePoint")
	if !ok {
		return 0, fmt.Errorf("%s has no timePoint", a.LongID())
	}
	in, err := m.TimeUnit(a)
	if err != nil {
		return 0, err
	}
	return Convert(t, in, out, m.FPS(a))
}

// TimeFrame converts a TimeFrame annotation's start and end into out units.
func (m *Mmif) TimeFrame(a *Annotation, out Unit) (float64, float64, error) {
	start, okS := a.Properties.Float("start")
	end, okE := a.Properties.Float("end")
	if !okS || !okE {
		return 0, 0, fmt.Errorf("%s has no start/end", a.LongID())
	}
	in, err := m.TimeUnit(a)
	if err != nil {
		return 0, 0, err
	}
	fps := m.FPS(a)
	s, err := Convert(start, in, out, fps)
	if err != nil {
		return 0, 0, err
	}
	e, err := Convert(end, in, out, fps)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}
