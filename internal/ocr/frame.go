package ocr

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
)

// Key is a frame's temporal key: a frame number or a (start, end) frame range.
type Key struct {
	Frame   int
	Start   int
	End     int
	IsRange bool
}

// FrameKey returns a frame-number key.
func FrameKey(n int) Key { return Key{Frame: n} }

// RangeKey returns a frame-range key.
func RangeKey(start, end int) Key { return Key{Start: start, End: end, IsRange: true} }

func (k Key) String() string {
	if k.IsRange {
		return fmt.Sprintf("%d-%d", k.Start, k.End)
	}
	return fmt.Sprintf("%d", k.Frame)
}

func (k Key) start() int {
	if k.IsRange {
		return k.Start
	}
	return k.Frame
}

// Less orders keys by start frame; at equal starts frame numbers precede
// ranges, and ranges are ordered by end frame.
func (k Key) Less(o Key) bool {
	if k.start() != o.start() {
		return k.start() < o.start()
	}
	if k.IsRange != o.IsRange {
		return !k.IsRange
	}
	return k.End < o.End
}

// Midpoint is the frame to show for the key.
func (k Key) Midpoint() int {
	if k.IsRange {
		return (k.Start + k.End) / 2
	}
	return k.Frame
}

func (k Key) MarshalJSON() ([]byte, error) {
	if k.IsRange {
		return json.Marshal([2]int{k.Start, k.End})
	}
	return json.Marshal(k.Frame)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*k = FrameKey(n)
		return nil
	}
	var r [2]int
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("frame key must be an integer or [start, end]: %s", data)
	}
	*k = RangeKey(r[0], r[1])
	return nil
}

// Box is one detected region, [x, y, w, h] in pixels.
type Box struct {
	ID   string
	Type string
	X    float64
	Y    float64
	W    float64
	H    float64
}

func (b Box) MarshalJSON() ([]byte, error) {
	var typ any
	if b.Type != "" {
		typ = b.Type
	}
	return json.Marshal([]any{b.ID, typ, [4]float64{b.X, b.Y, b.W, b.H}})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("box must have 3 elements, got %d", len(raw))
	}
	var typ *string
	var coords [4]float64
	if err := json.Unmarshal(raw[0], &b.ID); err != nil {
		return fmt.Errorf("box id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &typ); err != nil {
		return fmt.Errorf("box type: %w", err)
	}
	if err := json.Unmarshal(raw[2], &coords); err != nil {
		return fmt.Errorf("box coordinates: %w", err)
	}
	b.Type = ""
	if typ != nil {
		b.Type = *typ
	}
	b.X, b.Y, b.W, b.H = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// Frame is everything known about one temporal key. The JSON field names are
// the page-file format read by the viewer.
type Frame struct {
	Text           []string    `json:"text"`
	Boxes          []Box       `json:"boxes"`
	AnnoIDs        []string    `json:"anno_ids"`
	Timestamp      *string     `json:"timestamp"`
	Secs           *float64    `json:"secs"`
	Repeat         bool        `json:"repeat"`
	FrameNum       *int        `json:"frame_num"`
	Range          *[2]int     `json:"range"`
	TimestampRange *[2]string  `json:"timestamp_range"`
	SecRange       *[2]float64 `json:"sec_range"`
	FrameType      *string     `json:"frametype"`
	BoxTypes       []string    `json:"boxtypes"`
	ID             string      `json:"id"`
}

// NewFrame returns an empty frame.
func NewFrame() Frame {
	return Frame{Text: []string{}, Boxes: []Box{}, AnnoIDs: []string{}, BoxTypes: []string{}}
}

// Key returns the frame's temporal key. A frame number wins over a range.
func (f Frame) Key() (Key, bool) {
	if f.FrameNum != nil {
		return FrameKey(*f.FrameNum), true
	}
	if f.Range != nil {
		return RangeKey(f.Range[0], f.Range[1]), true
	}
	return Key{}, false
}

func (f Frame) clone() Frame {
	f.Text = append([]string{}, f.Text...)
	f.Boxes = append([]Box{}, f.Boxes...)
	f.AnnoIDs = append([]string{}, f.AnnoIDs...)
	f.BoxTypes = append([]string{}, f.BoxTypes...)
	return f
}

// Kind tags a Contribution.
type Kind int

const (
	BoxUpdate Kind = iota + 1
	TimePointUpdate
	TimeFrameUpdate
	TextUpdate
)

func (k Kind) String() string {
	switch k {
	case BoxUpdate:
		return "box"
	case TimePointUpdate:
		return "timepoint"
	case TimeFrameUpdate:
		return "timeframe"
	case TextUpdate:
		return "text"
	}
	return "unknown"
}

// Contribution is one annotation's effect on a frame. Only the fields for its
// Kind are meaningful.
type Contribution struct {
	Kind Kind

	Box Box

	FrameNum int
	Secs     float64

	Range    [2]int
	SecRange [2]float64

	// Label is the frame type carried by a time point or time frame.
	Label string

	Text string
}

var textEscapes = regexp.MustCompile(`([\\/|"'])`)

// Apply folds c into f and returns the result; f is not modified. Boxes and
// text only ever grow: a box id already on the frame and a text already
// present are not added twice.
func Apply(f Frame, c Contribution) Frame {
	f = f.clone()
	switch c.Kind {
	case BoxUpdate:
		if !slices.Contains(f.AnnoIDs, c.Box.ID) {
			f.Boxes = append(f.Boxes, c.Box)
			f.AnnoIDs = append(f.AnnoIDs, c.Box.ID)
		}
		if c.Box.Type != "" && !slices.Contains(f.BoxTypes, c.Box.Type) {
			f.BoxTypes = append(f.BoxTypes, c.Box.Type)
		}
	case TimePointUpdate:
		n, secs := c.FrameNum, c.Secs
		ts := FormatTimestamp(secs)
		f.FrameNum, f.Secs, f.Timestamp = &n, &secs, &ts
		if c.Label != "" {
			label := c.Label
			f.FrameType = &label
		}
	case TimeFrameUpdate:
		r, sr := c.Range, c.SecRange
		tr := [2]string{FormatTimestamp(sr[0]), FormatTimestamp(sr[1])}
		f.Range, f.SecRange, f.TimestampRange = &r, &sr, &tr
		if c.Label != "" {
			label := c.Label
			f.FrameType = &label
		}
	case TextUpdate:
		if c.Text == "" {
			break
		}
		t := textEscapes.ReplaceAllString(c.Text, "$1 ")
		if !slices.Contains(f.Text, t) {
			f.Text = append(f.Text, t)
		}
	}
	return f
}

// Fold applies contributions to f in order.
func Fold(f Frame, cs []Contribution) Frame {
	for _, c := range cs {
		f = Apply(f, c)
	}
	return f
}

// FormatTimestamp renders seconds as H:MM:SS with a six-digit fraction when
// the value is not whole, e.g. "0:01:05" or "0:00:02.500000".
func FormatTimestamp(secs float64) string {
	sign := ""
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	us := int64(math.Round(secs * 1e6))
	days := us / (86400 * 1e6)
	us -= days * 86400 * 1e6
	h := us / 3600e6
	us -= h * 3600e6
	m := us / 60e6
	us -= m * 60e6
	s := us / 1e6
	us -= s * 1e6

	out := fmt.Sprintf("%d:%02d:%02d", h, m, s)
	if us != 0 {
		out += fmt.Sprintf(".%06d", us)
	}
	switch {
	case days == 1:
		out = "1 day, " + out
	case days > 1:
		out = fmt.Sprintf("%d days, %s", days, out)
	}
	return sign + out
}

// KeyedFrame pairs a frame with its key. It serializes as [key, frame].
type KeyedFrame struct {
	Key   Key
	Frame Frame
}

func (kf KeyedFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{kf.Key, kf.Frame})
}

func (kf *KeyedFrame) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("keyed frame must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &kf.Key); err != nil {
		return err
	}
	kf.Frame = NewFrame()
	return json.Unmarshal(raw[1], &kf.Frame)
}
