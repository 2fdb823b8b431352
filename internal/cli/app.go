package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/config"
	"github.com/dshills/mmifviz/internal/logging"
	"github.com/dshills/mmifviz/internal/media"
	"github.com/dshills/mmifviz/internal/ocr"
	"github.com/dshills/mmifviz/internal/output"
	"github.com/dshills/mmifviz/internal/pagestore"
	"github.com/dshills/mmifviz/internal/render"
)

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagLogLevel != "" {
		m["log.level"] = flagLogLevel
	}
	if flagCacheDir != "" {
		m["cache.dir"] = flagCacheDir
	}
	if flagPageStore != "" {
		m["pageStore.backend"] = flagPageStore
	}
	if flagNoColor {
		m["log.noColor"] = strconv.FormatBool(flagNoColor)
	}
	return m
}

// app holds everything a command needs, built from the effective config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *cache.Store
	pages    pagestore.Store
	evictor  *cache.Evictor
	pipeline *render.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(buildOverrides())
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, level, cfg.Log.NoColor)

	store, err := cache.New(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if err := cache.EnsureLink(cfg.Cache.StaticLink, store.Root()); err != nil {
		return nil, err
	}
	pages, err := pagestore.Open(ctx, cfg.PageStore.Backend, store.Root(), cfg.PageStore.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening page store: %w", err)
	}

	evictor := cache.NewEvictor(store, cache.EvictorOptions{
		MaxBytes: cfg.Cache.MaxBytes,
		Logger:   logger,
		OnEvict: func(ctx context.Context, e cache.Entry) error {
			return pages.DeleteEntry(ctx, e.ID)
		},
	})
	if err := evictor.Start(ctx); err != nil {
		pages.Close()
		return nil, err
	}

	opener := media.NewFFmpeg(cfg.Media.FFmpeg, cfg.Media.FFprobe, logger)
	mat := media.NewMaterializer(opener, media.Options{
		HistogramThreshold: cfg.Media.HistogramThreshold,
		JPEGQuality:        cfg.Media.JPEGQuality,
		Logger:             logger,
	})
	pipeline := render.New(store, pages, mat, render.Options{
		Dedup: ocr.DedupOptions{
			BoxGrid:       cfg.Dedup.BoxGrid,
			WindowSeconds: cfg.Dedup.WindowSeconds,
			MaxBoxDelta:   cfg.Dedup.MaxBoxDelta,
		},
		AnchorsPerPage: cfg.Paginate.AnchorsPerPage,
		Evictor:        evictor,
		Logger:         logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pages:    pages,
		evictor:  evictor,
		pipeline: pipeline,
	}, nil
}

func (a *app) close() {
	a.evictor.Close()
	if err := a.pages.Close(); err != nil {
		a.logger.Warn("closing page store", "error", err)
	}
}

// evict runs the evictor synchronously so the command can report what it
// removed. A nil result means nothing was evicted.
func (a *app) evict(ctx context.Context) *cache.EvictReport {
	rep, err := a.evictor.Run(ctx)
	if err != nil {
		a.logger.Warn("cache eviction failed", "error", err)
		return nil
	}
	if len(rep.Evicted) == 0 {
		return nil
	}
	return &rep
}

// write prints report in the configured format to the command's output.
func (a *app) write(cmd *cobra.Command, report *output.Report) {
	w, err := output.GetWriter(a.cfg.Format)
	if err != nil {
		fail(err)
		return
	}
	if err := w.Write(cmd.OutOrStdout(), report); err != nil {
		fail(fmt.Errorf("writing output: %w", err))
	}
}

// withApp runs fn with a fresh app, reporting setup and run errors through
// fail.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		fail(err)
		return
	}
	defer a.close()
	if err := fn(ctx, a); err != nil {
		fail(err)
	}
}
