package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/mmif"
	"github.com/dshills/mmifviz/internal/ocr"
	"github.com/dshills/mmifviz/internal/pagestore"
)

type fakeMaterializer struct {
	videos []string
	dirs   []string
	// imageSize, when set, is the size of the file written for each frame.
	imageSize int
}

func (f *fakeMaterializer) Materialize(_ context.Context, videoPath, imgDir string, page ocr.Page) (ocr.Page, error) {
	f.videos = append(f.videos, videoPath)
	f.dirs = append(f.dirs, imgDir)
	out := make(ocr.Page, len(page))
	for i, kf := range page {
		kf.Frame.ID = fmt.Sprintf("%d.jpg", kf.Key.Midpoint())
		if f.imageSize > 0 {
			if err := os.MkdirAll(imgDir, 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(filepath.Join(imgDir, kf.Frame.ID), make([]byte, f.imageSize), 0o644); err != nil {
				return nil, err
			}
		}
		out[i] = kf
	}
	return out, nil
}

func coords(x0, y0, x1, y1 float64) []any {
	return []any{[]any{x0, y0}, []any{x1, y0}, []any{x0, y1}, []any{x1, y1}}
}

// testBundle has an OCR view with two distinct frames and an ASR view.
func testBundle(t *testing.T, video bool) []byte {
	t.Helper()
	m := mmif.New()
	if video {
		m.AddDocument(mmif.TypeVideoDocument, mmif.Properties{"id": "d1", "location": "file:///data/video.mp4", "fps": 30.0})
	}

	ocrView := mmif.NewView("v1", "east")
	ocrView.SetContains(mmif.TypeTimePoint, "timeUnit", "frames")
	ocrView.SetContains(mmif.TypeBoundingBox, "document", "d1")
	ocrView.Add(mmif.TypeTimePoint, mmif.Properties{"id": "tp1", "timePoint": 30.0})
	ocrView.Add(mmif.TypeTimePoint, mmif.Properties{"id": "tp2", "timePoint": 60.0})
	ocrView.Add(mmif.TypeBoundingBox, mmif.Properties{"id": "bb1", "boxType": "text", "timePoint": "tp1", "coordinates": coords(0, 0, 10, 10)})
	ocrView.Add(mmif.TypeBoundingBox, mmif.Properties{"id": "bb2", "boxType": "text", "timePoint": "tp2", "coordinates": coords(400, 400, 410, 410)})
	m.AddView(ocrView)

	asr := mmif.NewView("v2", "whisper")
	asr.SetContains(mmif.TypeTimeFrame, "timeUnit", "milliseconds")
	for i, w := range []string{"good", "evening"} {
		asr.Add(mmif.TypeToken, mmif.Properties{"id": fmt.Sprintf("t%d", i), "word": w})
		asr.Add(mmif.TypeTimeFrame, mmif.Properties{"id": fmt.Sprintf("tf%d", i), "start": float64(i * 500), "end": float64(i*500 + 500)})
		asr.Add(mmif.TypeAlignment, mmif.Properties{"id": fmt.Sprintf("a%d", i), "source": fmt.Sprintf("tf%d", i), "target": fmt.Sprintf("t%d", i)})
	}
	m.AddView(asr)

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return data
}

func newPipeline(t *testing.T) (*Pipeline, *cache.Store, *fakeMaterializer) {
	t.Helper()
	store, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache.New error: %v", err)
	}
	mat := &fakeMaterializer{}
	return New(store, pagestore.NewFS(store.Root()), mat, Options{}), store, mat
}

func viewReport(t *testing.T, res UploadResult, id string) ViewReport {
	t.Helper()
	for _, v := range res.Views {
		if v.ID == id {
			return v
		}
	}
	t.Fatalf("no report for view %s", id)
	return ViewReport{}
}

func TestUpload_CreatesEntry(t *testing.T) {
	p, _, _ := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if !res.Created {
		t.Error("first upload should create the entry")
	}

	ocrReport := viewReport(t, res, "v1")
	if ocrReport.Kind != "OCR" || ocrReport.Pages != 1 || ocrReport.Stats == nil {
		t.Errorf("OCR report = %+v", ocrReport)
	}
	asrReport := viewReport(t, res, "v2")
	if asrReport.Kind != "ASR" || asrReport.Caption != res.Entry.CaptionPath("v2") {
		t.Errorf("ASR report = %+v", asrReport)
	}
	captions, err := os.ReadFile(asrReport.Caption)
	if err != nil {
		t.Fatalf("reading captions error: %v", err)
	}
	if !strings.Contains(string(captions), "good evening") {
		t.Errorf("captions = %q", captions)
	}

	f, err := os.Open(res.Entry.IndexPath())
	if err != nil {
		t.Fatalf("opening index error: %v", err)
	}
	defer f.Close()
	sum, err := Summarize(f)
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if sum.EntryID != res.Entry.ID {
		t.Errorf("summary entry = %q, want %q", sum.EntryID, res.Entry.ID)
	}
	if len(sum.Documents) != 1 || sum.Documents[0] != "d1" {
		t.Errorf("summary documents = %v", sum.Documents)
	}
	want := []ViewSummary{
		{ID: "v1", Kind: "OCR", Status: "OKAY", Pages: 1},
		{ID: "v2", Kind: "ASR", Status: "OKAY"},
	}
	if len(sum.Views) != len(want) {
		t.Fatalf("summary views = %+v", sum.Views)
	}
	for i := range want {
		if sum.Views[i] != want[i] {
			t.Errorf("view %d = %+v, want %+v", i, sum.Views[i], want[i])
		}
	}
}

func TestUpload_AnnotationTable(t *testing.T) {
	p, _, _ := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	f, err := os.Open(res.Entry.IndexPath())
	if err != nil {
		t.Fatalf("opening index error: %v", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("parsing index error: %v", err)
	}

	rows := doc.Find(`div.annotations[data-view="v1"] tr.annotation`)
	if rows.Length() != 4 {
		t.Fatalf("v1 annotation rows = %d, want 4", rows.Length())
	}
	tp := rows.Filter(`[data-id="tp1"]`)
	if typ, _ := tp.Attr("data-type"); typ != "TimePoint" {
		t.Errorf("tp1 type = %q", typ)
	}
	if got := tp.Find("td.properties").Text(); got != "{ timePoint=30 }" {
		t.Errorf("tp1 properties = %q", got)
	}
	if n := doc.Find(`div.annotations[data-view="v2"] tr.annotation`).Length(); n != 6 {
		t.Errorf("v2 annotation rows = %d, want 6", n)
	}
}

func TestFormatProperties(t *testing.T) {
	v := mmif.NewView("v1", "app")
	short := v.Add(mmif.TypeBoundingBox, mmif.Properties{"id": "bb1", "boxType": "text", "coordinates": []any{[]any{1.0, 2.0}}})
	if got, want := formatProperties(short), `{ boxType=text, coordinates=[[1,2]] }`; got != want {
		t.Errorf("formatProperties = %q, want %q", got, want)
	}

	long := v.Add(mmif.TypeTextDocument, mmif.Properties{"id": "td1", "text": map[string]any{"@value": strings.Repeat("é", 600)}})
	got := formatProperties(long)
	if !strings.HasSuffix(got, "  . . .  }") {
		t.Errorf("long properties not cut off: %q", got[len(got)-20:])
	}
	if n := len([]rune(got)); n != maxPropertiesLen+len("  . . .  }") {
		t.Errorf("cut length = %d runes", n)
	}
}

func TestUpload_ReusesEntry(t *testing.T) {
	p, _, _ := newPipeline(t)
	bundle := testBundle(t, true)
	first, err := p.Upload(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	second, err := p.Upload(context.Background(), bundle)
	if err != nil {
		t.Fatalf("second Upload error: %v", err)
	}
	if second.Created {
		t.Error("second upload should reuse the entry")
	}
	if second.Entry != first.Entry {
		t.Errorf("entries differ: %v vs %v", first.Entry, second.Entry)
	}
	r := viewReport(t, second, "v1")
	if r.Pages != 1 || r.Stats != nil {
		t.Errorf("reused OCR report = %+v", r)
	}
}

func TestUpload_InvalidBundle(t *testing.T) {
	p, store, _ := newPipeline(t)
	if _, err := p.Upload(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected error for malformed bundle")
	}
	st, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.Entries != 0 {
		t.Errorf("entries = %d, want 0", st.Entries)
	}
}

func TestPrepare_PageCount(t *testing.T) {
	p, _, _ := newPipeline(t)
	p.anchors = 1
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if got := viewReport(t, res, "v1").Pages; got != 2 {
		t.Errorf("pages = %d, want 2", got)
	}

	m, err := mmif.Parse(testBundle(t, true))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	v, _ := m.View("v1")
	n, err := p.Prepare(context.Background(), m, v, res.Entry.ID)
	if err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	if n != 2 {
		t.Errorf("Prepare = %d, want 2", n)
	}
}

func TestRenderPage(t *testing.T) {
	p, _, mat := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	html, err := p.RenderPage(context.Background(), res.Entry.ID, "", "v1", 0)
	if err != nil {
		t.Fatalf("RenderPage error: %v", err)
	}
	if len(mat.videos) != 1 || mat.videos[0] != "/data/video.mp4" {
		t.Errorf("materialized from %v", mat.videos)
	}
	if mat.dirs[0] != res.Entry.ImagePath("v1") {
		t.Errorf("image dir = %q", mat.dirs[0])
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parsing page error: %v", err)
	}
	var srcs []string
	doc.Find("figure.frame img").Each(func(_ int, s *goquery.Selection) {
		srcs = append(srcs, s.AttrOr("src", ""))
	})
	if len(srcs) != 2 || srcs[0] != "img/v1/30.jpg" || srcs[1] != "img/v1/60.jpg" {
		t.Errorf("image sources = %v", srcs)
	}
	if doc.Find("a.next").Length() != 0 || doc.Find("a.prev").Length() != 0 {
		t.Error("single page should have no navigation links")
	}
}

func TestRenderPage_RequestsEviction(t *testing.T) {
	store, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache.New error: %v", err)
	}
	const budget = 512 << 10
	ev := cache.NewEvictor(store, cache.EvictorOptions{MaxBytes: budget})
	if err := ev.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ev.Close()

	mat := &fakeMaterializer{imageSize: 1 << 20}
	p := New(store, pagestore.NewFS(store.Root()), mat, Options{Evictor: ev})
	ctx := context.Background()
	first, err := p.Upload(ctx, testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if _, err := p.Upload(ctx, testBundle(t, false)); err != nil {
		t.Fatalf("Upload error: %v", err)
	}

	if _, err := p.RenderPage(ctx, first.Entry.ID, "", "v1", 0); err != nil {
		t.Fatalf("RenderPage error: %v", err)
	}

	var size int64
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if size, err = store.TotalSize(); err != nil {
			t.Fatalf("TotalSize error: %v", err)
		}
		if size <= budget {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("TotalSize = %d after page render, want <= %d", size, budget)
}

func TestRenderPage_ExplicitVideo(t *testing.T) {
	p, _, mat := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, false))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	// Without a video document the OCR view is not classified, so prepare it
	// directly.
	m, err := mmif.Parse(testBundle(t, false))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	v, _ := m.View("v1")
	if _, err := p.Prepare(context.Background(), m, v, res.Entry.ID); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}

	if _, err := p.RenderPage(context.Background(), res.Entry.ID, "", "v1", 0); !errors.Is(err, ErrNoVideo) {
		t.Errorf("RenderPage err = %v, want ErrNoVideo", err)
	}
	if _, err := p.RenderPage(context.Background(), res.Entry.ID, "/elsewhere.mp4", "v1", 0); err != nil {
		t.Fatalf("RenderPage error: %v", err)
	}
	if mat.videos[len(mat.videos)-1] != "/elsewhere.mp4" {
		t.Errorf("materialized from %v", mat.videos)
	}
}

func TestRenderPage_CacheMiss(t *testing.T) {
	p, store, _ := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if err := store.InvalidateAll(res.Entry.ID); err != nil {
		t.Fatalf("InvalidateAll error: %v", err)
	}
	_, err = p.RenderPage(context.Background(), res.Entry.ID, "", "v1", 0)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("RenderPage err = %v, want ErrCacheMiss", err)
	}
	if _, err := p.VideoPath(res.Entry.ID); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("VideoPath err = %v, want ErrCacheMiss", err)
	}
}

func TestRenderPage_OutOfRange(t *testing.T) {
	p, _, _ := newPipeline(t)
	res, err := p.Upload(context.Background(), testBundle(t, true))
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	_, err = p.RenderPage(context.Background(), res.Entry.ID, "", "v1", 5)
	if !errors.Is(err, ocr.ErrPageOutOfRange) {
		t.Errorf("RenderPage err = %v, want ErrPageOutOfRange", err)
	}
}

func TestRenderPage_Navigation(t *testing.T) {
	frames := ocr.Page{{Key: ocr.FrameKey(30), Frame: ocr.NewFrame()}}
	html, err := renderPage("v1:x", 1, 3, frames)
	if err != nil {
		t.Fatalf("renderPage error: %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(html))
	if err != nil {
		t.Fatalf("parsing page error: %v", err)
	}
	if got := doc.Find("a.prev").AttrOr("href", ""); got != "v1-x-page-0.html" {
		t.Errorf("prev = %q", got)
	}
	if got := doc.Find("a.next").AttrOr("href", ""); got != "v1-x-page-2.html" {
		t.Errorf("next = %q", got)
	}
}

func TestPageFileName(t *testing.T) {
	if got := PageFileName("v_1:sub", 3); got != "v_1-sub-page-3.html" {
		t.Errorf("PageFileName = %q", got)
	}
}
