package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/mmif"
	"github.com/dshills/mmifviz/internal/ocr"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type indexDoc struct {
	ID       string
	Type     string
	Location string
}

type typeCount struct {
	Type  string
	Count int
}

type pageLink struct {
	N    int
	File string
}

type indexView struct {
	ID          string
	App         string
	Status      string
	Annotations int
	Kind        string
	Pages       int
	PageLinks   []pageLink
	Caption     string
	Error       string
	Types       []typeCount
	Rows        []annotationRow
}

type annotationRow struct {
	ID         string
	Type       string
	Properties string
}

// maxPropertiesLen is where an annotation's property listing is cut off.
const maxPropertiesLen = 500

type caption struct {
	ViewID string
	File   string
}

type indexData struct {
	EntryID   string
	ShortID   string
	Documents []indexDoc
	Views     []indexView
	Captions  []caption
}

func buildIndex(m *mmif.Mmif, entry cache.Entry, reports []ViewReport) ([]byte, error) {
	data := indexData{EntryID: entry.ID, ShortID: shortID(entry.ID)}
	for _, d := range m.Documents {
		data.Documents = append(data.Documents, indexDoc{ID: d.ID(), Type: d.Type.ShortName(), Location: d.Location()})
	}
	byID := make(map[string]ViewReport, len(reports))
	for _, r := range reports {
		byID[r.ID] = r
	}
	for _, v := range m.Views {
		r := byID[v.ID]
		iv := indexView{
			ID:          v.ID,
			App:         v.Metadata.App,
			Status:      "OKAY",
			Annotations: len(v.Annotations),
			Kind:        r.Kind,
			Pages:       r.Pages,
			Error:       r.Error,
			Types:       countTypes(v),
		}
		for _, a := range v.Annotations {
			iv.Rows = append(iv.Rows, annotationRow{ID: a.ID(), Type: a.Type.ShortName(), Properties: formatProperties(a)})
		}
		if v.HasError() {
			iv.Status = "ERROR"
		}
		for n := 0; n < r.Pages; n++ {
			iv.PageLinks = append(iv.PageLinks, pageLink{N: n, File: PageFileName(v.ID, n)})
		}
		if r.Caption != "" {
			iv.Caption = filepath.Base(r.Caption)
			data.Captions = append(data.Captions, caption{ViewID: v.ID, File: iv.Caption})
		}
		data.Views = append(data.Views, iv)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "index.html.tmpl", data); err != nil {
		return nil, fmt.Errorf("rendering index: %w", err)
	}
	return buf.Bytes(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// countTypes counts annotations by short type, in first-seen order.
func countTypes(v *mmif.View) []typeCount {
	var out []typeCount
	pos := map[string]int{}
	for _, a := range v.Annotations {
		t := a.Type.ShortName()
		i, ok := pos[t]
		if !ok {
			i = len(out)
			pos[t] = i
			out = append(out, typeCount{Type: t})
		}
		out[i].Count++
	}
	return out
}

// formatProperties lists an annotation's properties other than its id as
// "{ k=v, ... }" in key order, cut off after maxPropertiesLen characters.
func formatProperties(a *mmif.Annotation) string {
	keys := make([]string, 0, len(a.Properties))
	for k := range a.Properties {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(k, a))
	}
	s := "{ " + strings.Join(parts, ", ") + " }"
	if r := []rune(s); len(r) > maxPropertiesLen {
		return string(r[:maxPropertiesLen]) + "  . . .  }"
	}
	return s
}

func formatValue(key string, a *mmif.Annotation) string {
	if key == "text" {
		return a.TextValue()
	}
	switch v := a.Properties[key].(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// IndexSummary is what an index page says about its entry.
type IndexSummary struct {
	EntryID   string        `json:"entryId"`
	Documents []string      `json:"documents"`
	Views     []ViewSummary `json:"views"`
}

// ViewSummary is one row of the index's view table.
type ViewSummary struct {
	ID     string `json:"id"`
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status"`
	Pages  int    `json:"pages,omitempty"`
}

// Summarize reads an index page back into a summary.
func Summarize(r io.Reader) (IndexSummary, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("parsing index: %w", err)
	}
	var s IndexSummary
	s.EntryID, _ = doc.Find("#entry").Attr("data-entry")
	doc.Find("li.document").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("data-id")
		s.Documents = append(s.Documents, id)
	})
	doc.Find("tr.view").Each(func(_ int, sel *goquery.Selection) {
		v := ViewSummary{
			ID:     sel.AttrOr("data-id", ""),
			Kind:   sel.AttrOr("data-kind", ""),
			Status: sel.AttrOr("data-status", ""),
		}
		v.Pages, _ = strconv.Atoi(sel.AttrOr("data-pages", "0"))
		s.Views = append(s.Views, v)
	})
	return s, nil
}

type pageFrame struct {
	Key       string
	Image     string
	Time      string
	FrameType string
	Repeat    bool
	Text      []string
	Boxes     []pageBox
}

type pageBox struct {
	Type string
	Rect string
}

type pageData struct {
	ViewID   string
	Page     int
	Pages    int
	HasPrev  bool
	HasNext  bool
	PrevFile string
	NextFile string
	Frames   []pageFrame
}

func renderPage(viewID string, n, total int, frames ocr.Page) (string, error) {
	data := pageData{
		ViewID:   viewID,
		Page:     n,
		Pages:    total,
		HasPrev:  n > 0,
		HasNext:  n+1 < total,
		PrevFile: PageFileName(viewID, n-1),
		NextFile: PageFileName(viewID, n+1),
	}
	imgDir := filepath.ToSlash(filepath.Join(cache.ImageDir, ocr.SafeViewID(viewID)))
	for _, kf := range frames {
		f := kf.Frame
		pf := pageFrame{
			Key:    kf.Key.String(),
			Image:  imgDir + "/" + f.ID,
			Repeat: f.Repeat,
			Text:   f.Text,
		}
		switch {
		case f.Timestamp != nil:
			pf.Time = *f.Timestamp
		case f.TimestampRange != nil:
			pf.Time = f.TimestampRange[0] + " - " + f.TimestampRange[1]
		}
		if f.FrameType != nil {
			pf.FrameType = *f.FrameType
		}
		for _, b := range f.Boxes {
			pf.Boxes = append(pf.Boxes, pageBox{Type: b.Type, Rect: fmt.Sprintf("%g,%g,%g,%g", b.X, b.Y, b.W, b.H)})
		}
		data.Frames = append(data.Frames, pf)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "page.html.tmpl", data); err != nil {
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return buf.String(), nil
}

func splitPath(path string) (string, string) {
	return filepath.Dir(path), filepath.Base(path)
}
