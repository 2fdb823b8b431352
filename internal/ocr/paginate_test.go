package ocr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dshills/mmifviz/internal/mmif"
)

func pageKeys(p Page) []int {
	out := make([]int, 0, len(p))
	for _, kf := range p {
		out = append(out, kf.Key.Frame)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// newsFrames is a run of three captions, each held for three frames.
func newsFrames() []KeyedFrame {
	var out []KeyedFrame
	for i, n := range []int{0, 1, 2, 50, 51, 52, 100} {
		var x float64
		text := "anchor desk"
		switch {
		case n >= 100:
			x, text = 600, "weather"
		case n >= 50:
			x, text = 300, "sports"
		}
		out = append(out, frameAt(n, float64(n)/30, text, textBox(string(rune('a'+i)), x, x, 50, 20)))
	}
	return out
}

func TestPaginate_EndToEnd(t *testing.T) {
	frames := FindDuplicates(newsFrames(), DefaultDedupOptions())
	repeats := 0
	for _, kf := range frames {
		if kf.Frame.Repeat {
			repeats++
		}
	}
	if repeats != 4 {
		t.Fatalf("repeats = %d, want 4", repeats)
	}

	pages := Paginate(frames, DefaultAnchorsPerPage)
	if len(pages) != 1 || len(pages[0]) != 7 {
		t.Fatalf("default pagination = %d pages", len(pages))
	}

	pages = Paginate(frames, 2)
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if got := pageKeys(pages[0]); !equalInts(got, []int{0, 1, 2, 50, 51, 52}) {
		t.Errorf("page 0 = %v", got)
	}
	if got := pageKeys(pages[1]); !equalInts(got, []int{100}) {
		t.Errorf("page 1 = %v", got)
	}
}

// newsBundle is newsFrames as a bundle: one video document and a view of
// BoundingBox -> TextDocument alignments, each box keyed by a time point.
func newsBundle() (*mmif.Mmif, *mmif.View) {
	m := mmif.New()
	m.AddDocument(mmif.TypeVideoDocument, mmif.Properties{"id": "d1", "location": "file:///news.mp4", "fps": 30.0})
	v := mmif.NewView("v1", "east+tesseract")
	v.SetContains(mmif.TypeTimePoint, "timeUnit", "frames")
	v.SetContains(mmif.TypeBoundingBox, "document", "d1")
	for _, n := range []int{0, 1, 2, 50, 51, 52, 100} {
		var x float64
		text := "anchor desk"
		switch {
		case n >= 100:
			x, text = 600, "weather"
		case n >= 50:
			x, text = 300, "sports"
		}
		tp, bb, td := fmt.Sprintf("tp%d", n), fmt.Sprintf("bb%d", n), fmt.Sprintf("td%d", n)
		v.Add(mmif.TypeTimePoint, mmif.Properties{"id": tp, "timePoint": float64(n)})
		v.Add(mmif.TypeBoundingBox, mmif.Properties{"id": bb, "boxType": "text", "timePoint": tp, "coordinates": coords(x, x, x+50, x+20)})
		v.Add(mmif.TypeTextDocument, mmif.Properties{"id": td, "text": map[string]any{"@value": text}})
		v.Add(mmif.TypeAlignment, mmif.Properties{"id": "a" + bb, "source": bb, "target": td})
	}
	m.AddView(v)
	return m, v
}

func TestPaginate_AssembledBundle(t *testing.T) {
	m, v := newsBundle()
	frames, st := NewAssembler(m, nil).Assemble(v)
	if st.Frames != 7 || st.Dropped != 0 {
		t.Fatalf("stats = %+v, want 7 frames and no drops", st)
	}

	frames = FindDuplicates(frames, DefaultDedupOptions())
	var keys, repeats []int
	for _, kf := range frames {
		keys = append(keys, kf.Key.Frame)
		if kf.Frame.Repeat {
			repeats = append(repeats, kf.Key.Frame)
		}
	}
	if !equalInts(keys, []int{0, 1, 2, 50, 51, 52, 100}) {
		t.Fatalf("keys = %v", keys)
	}
	if !equalInts(repeats, []int{1, 2, 51, 52}) {
		t.Errorf("repeats = %v, want [1 2 51 52]", repeats)
	}

	pages := Paginate(frames, 2)
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if got := pageKeys(pages[0]); !equalInts(got, []int{0, 1, 2, 50, 51, 52}) {
		t.Errorf("page 0 = %v", got)
	}
	if got := pageKeys(pages[1]); !equalInts(got, []int{100}) {
		t.Errorf("page 1 = %v", got)
	}
}

func TestPaginate_Invariants(t *testing.T) {
	var frames []KeyedFrame
	// Anchors every third frame: 9 of them, so the last page is short.
	for i := 0; i < 26; i++ {
		kf := frameAt(i, float64(i), "", textBox("b", 0, 0, 1, 1))
		kf.Frame.Repeat = i%3 != 0
		frames = append(frames, kf)
	}
	pages := Paginate(frames, 4)
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}

	total := 0
	for n := 0; n < len(pages); n++ {
		p, err := pages.Page(n)
		if err != nil {
			t.Fatalf("Page(%d) error: %v", n, err)
		}
		anchors := 0
		for _, kf := range p {
			if !kf.Frame.Repeat {
				anchors++
			}
			if kf.Key.Frame != total {
				t.Fatalf("frame %d out of order on page %d", kf.Key.Frame, n)
			}
			total++
		}
		if anchors > 4 {
			t.Errorf("page %d has %d anchors, want at most 4", n, anchors)
		}
		if n < len(pages)-1 && anchors < 4 {
			t.Errorf("page %d has %d anchors, want at least 4 before the last page", n, anchors)
		}
		if n > 0 && p[0].Frame.Repeat {
			t.Errorf("page %d starts with a repeat", n)
		}
	}
	if total != len(frames) {
		t.Errorf("paginated %d frames, want %d", total, len(frames))
	}
}

func TestPaginate_Empty(t *testing.T) {
	pages := Paginate(nil, 4)
	if len(pages) != 1 || len(pages[0]) != 0 {
		t.Errorf("Paginate(nil) = %v, want one empty page", pages)
	}
	if _, err := pages.Page(3); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("Page(3) err = %v", err)
	}
}

func TestPagesFileName(t *testing.T) {
	if got := PagesFileName("v_3:sub"); got != "v_3-sub-pages.json" {
		t.Errorf("PagesFileName = %q", got)
	}
}
