package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/mmif"
	"github.com/dshills/mmifviz/internal/ocr"
	"github.com/dshills/mmifviz/internal/vtt"
)

// ErrCacheMiss is returned when a requested entry is no longer cached.
var ErrCacheMiss = errors.New("visualization is not in the cache; upload the bundle again")

// ErrNoVideo is returned when a bundle has no video document to read frames from.
var ErrNoVideo = errors.New("bundle has no video document")

// Materializer writes a page's frames as images.
type Materializer interface {
	Materialize(ctx context.Context, videoPath, imgDir string, page ocr.Page) (ocr.Page, error)
}

// Options configures a Pipeline.
type Options struct {
	Dedup          ocr.DedupOptions
	AnchorsPerPage int
	// Evictor, when set, is asked for a run after every write to the cache.
	Evictor *cache.Evictor
	Logger  *slog.Logger
}

// Pipeline renders bundles into cache entries.
type Pipeline struct {
	store   *cache.Store
	pages   ocr.PageRepository
	mat     Materializer
	evictor *cache.Evictor
	dedup   ocr.DedupOptions
	anchors int
	logger  *slog.Logger
}

// New returns a pipeline over store that keeps page lists in pages and
// decodes frames with mat.
func New(store *cache.Store, pages ocr.PageRepository, mat Materializer, opts Options) *Pipeline {
	if opts.Dedup == (ocr.DedupOptions{}) {
		opts.Dedup = ocr.DefaultDedupOptions()
	}
	if opts.AnchorsPerPage <= 0 {
		opts.AnchorsPerPage = ocr.DefaultAnchorsPerPage
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		store:   store,
		pages:   pages,
		mat:     mat,
		evictor: opts.Evictor,
		dedup:   opts.Dedup,
		anchors: opts.AnchorsPerPage,
		logger:  opts.Logger,
	}
}

// ViewReport describes what an upload produced for one view.
type ViewReport struct {
	ID      string     `json:"id"`
	App     string     `json:"app"`
	Kind    string     `json:"kind"`
	Pages   int        `json:"pages,omitempty"`
	Stats   *ocr.Stats `json:"stats,omitempty"`
	Caption string     `json:"caption,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// UploadResult describes an upload.
type UploadResult struct {
	Entry   cache.Entry  `json:"entry"`
	Created bool         `json:"created"`
	Views   []ViewReport `json:"views"`
}

// Upload stores bundle and renders its artifacts. Uploading a bundle that is
// already cached reuses the entry, filling in any artifact that is missing.
// Failures in one view are reported in its ViewReport and do not fail the
// upload.
func (p *Pipeline) Upload(ctx context.Context, bundle []byte) (UploadResult, error) {
	m, err := mmif.Parse(bundle)
	if err != nil {
		return UploadResult{}, err
	}
	id := cache.HashKey(bundle)
	entry, created, err := p.store.OpenOrCreate(id, bundle)
	if err != nil {
		return UploadResult{}, err
	}
	if !created {
		if err := p.store.Touch(entry); err != nil {
			return UploadResult{}, p.miss(err)
		}
	}
	p.logger.Info("bundle uploaded", "id", id, "created", created, "views", len(m.Views))

	res := UploadResult{Entry: entry, Created: created}
	for _, v := range m.Views {
		res.Views = append(res.Views, p.prepareView(ctx, m, v, entry, created))
	}

	idx, err := buildIndex(m, entry, res.Views)
	if err != nil {
		return res, err
	}
	if err := fsx.WriteFileAtomic(entry.Dir, cache.IndexFile, idx); err != nil {
		return res, p.miss(err)
	}
	// One request per upload, after the entry is complete.
	p.requestEviction()
	return res, nil
}

func (p *Pipeline) requestEviction() {
	if p.evictor != nil {
		p.evictor.Request()
	}
}

func (p *Pipeline) prepareView(ctx context.Context, m *mmif.Mmif, v *mmif.View, entry cache.Entry, fresh bool) ViewReport {
	kind := mmif.Classify(m, v)
	r := ViewReport{ID: v.ID, App: v.Metadata.App, Kind: string(kind)}
	switch kind {
	case mmif.KindOCR:
		if !fresh {
			if pages, err := p.pages.LoadPages(ctx, entry.ID, v.ID); err == nil {
				r.Pages = len(pages)
				return r
			}
		}
		n, st, err := p.prepare(ctx, m, v, entry.ID)
		if err != nil {
			r.Error = err.Error()
			p.logger.Warn("preparing OCR view failed", "view", v.ID, "error", err)
			return r
		}
		r.Pages, r.Stats = n, &st
	case mmif.KindASR:
		path := entry.CaptionPath(v.ID)
		if _, err := os.Stat(path); err == nil {
			r.Caption = path
			return r
		}
		if err := writeCaptions(m, v, path); err != nil {
			r.Error = err.Error()
			p.logger.Warn("writing captions failed", "view", v.ID, "error", err)
			return r
		}
		r.Caption = path
	}
	return r
}

// Prepare assembles, deduplicates and paginates an OCR view and stores its
// page list under entryID. It returns the number of pages.
func (p *Pipeline) Prepare(ctx context.Context, idx *mmif.Mmif, view *mmif.View, entryID string) (int, error) {
	n, _, err := p.prepare(ctx, idx, view, entryID)
	if err != nil {
		return 0, err
	}
	p.requestEviction()
	return n, nil
}

func (p *Pipeline) prepare(ctx context.Context, idx *mmif.Mmif, view *mmif.View, entryID string) (int, ocr.Stats, error) {
	frames, st := ocr.NewAssembler(idx, p.logger).Assemble(view)
	frames = ocr.FindDuplicates(frames, p.dedup)
	pages := ocr.Paginate(frames, p.anchors)
	if err := p.pages.SavePages(ctx, entryID, view.ID, pages); err != nil {
		return 0, st, p.miss(err)
	}
	p.logger.Debug("prepared OCR view", "view", view.ID, "frames", st.Frames, "pages", len(pages))
	return len(pages), st, nil
}

func writeCaptions(m *mmif.Mmif, v *mmif.View, path string) error {
	fps := mmif.DefaultFPS
	if tfs := v.AnnotationsOf(mmif.TypeTimeFrame); len(tfs) > 0 {
		fps = m.FPS(tfs[0])
	}
	var buf bytes.Buffer
	if err := vtt.Write(&buf, v, fps); err != nil {
		return err
	}
	dir, name := splitPath(path)
	return fsx.WriteFileAtomic(dir, name, buf.Bytes())
}

// RenderPage materializes page n of a prepared OCR view and returns it as
// HTML. An empty videoPath means the bundle's first video document.
func (p *Pipeline) RenderPage(ctx context.Context, entryID, videoPath, viewID string, n int) (string, error) {
	entry, err := p.store.Lookup(entryID)
	if err != nil {
		return "", p.miss(err)
	}
	if err := p.store.Touch(entry); err != nil {
		return "", p.miss(err)
	}
	pages, err := p.pages.LoadPages(ctx, entryID, viewID)
	if err != nil {
		return "", p.miss(err)
	}
	page, err := pages.Page(n)
	if err != nil {
		return "", err
	}
	if videoPath == "" {
		if videoPath, err = p.VideoPath(entryID); err != nil {
			return "", err
		}
	}
	frames, err := p.mat.Materialize(ctx, videoPath, entry.ImagePath(viewID), page)
	// Materialize may have written some frames before failing.
	p.requestEviction()
	if err != nil {
		return "", err
	}
	p.logger.Debug("rendered page", "entry", entryID, "view", viewID, "page", n, "frames", len(frames))
	return renderPage(viewID, n, len(pages), frames)
}

// VideoPath returns the location of the entry's first video document.
func (p *Pipeline) VideoPath(entryID string) (string, error) {
	entry, err := p.store.Lookup(entryID)
	if err != nil {
		return "", p.miss(err)
	}
	data, err := os.ReadFile(entry.BundlePath())
	if err != nil {
		return "", p.miss(err)
	}
	m, err := mmif.Parse(data)
	if err != nil {
		return "", err
	}
	docs := m.DocumentsOf(mmif.TypeVideoDocument)
	if len(docs) == 0 {
		return "", ErrNoVideo
	}
	return docs[0].Location(), nil
}

// PageFileName is where the CLI writes a rendered page inside an entry.
func PageFileName(viewID string, n int) string {
	return fmt.Sprintf("%s-page-%d.html", ocr.SafeViewID(viewID), n)
}

// miss maps "entry gone" errors to ErrCacheMiss.
func (p *Pipeline) miss(err error) error {
	if errors.Is(err, cache.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrCacheMiss, err)
	}
	return err
}
