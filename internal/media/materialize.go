package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/ocr"
)

// Options configures a Materializer.
type Options struct {
	// HistogramThreshold demotes a repeat frame whose chi-square distance from
	// the previous image exceeds it. Zero means DefaultHistogramThreshold.
	HistogramThreshold float64
	// JPEGQuality is 1-100; zero means 90.
	JPEGQuality int
	Logger      *slog.Logger
}

// Materializer writes a page's frames as JPEG files.
type Materializer struct {
	opener    Opener
	threshold float64
	quality   int
	logger    *slog.Logger
}

// NewMaterializer returns a materializer that decodes through opener.
func NewMaterializer(opener Opener, opts Options) *Materializer {
	if opts.HistogramThreshold <= 0 {
		opts.HistogramThreshold = DefaultHistogramThreshold
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Materializer{opener: opener, threshold: opts.HistogramThreshold, quality: opts.JPEGQuality, logger: opts.Logger}
}

// Materialize replaces imgDir's contents with one JPEG per frame on page and
// returns the page with each frame's ID set to its image file name. Range
// keys are shown at their midpoint. A repeat frame whose image differs too
// much from the previous frame's is returned as a non-repeat; page is not
// modified.
func (m *Materializer) Materialize(ctx context.Context, videoPath, imgDir string, page ocr.Page) (ocr.Page, error) {
	if err := os.RemoveAll(imgDir); err != nil {
		return nil, fmt.Errorf("clearing %s: %w", imgDir, err)
	}
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", imgDir, err)
	}

	dec, err := m.opener.Open(ctx, videoPath)
	if err != nil {
		if IsMediaRead(err) {
			return nil, err
		}
		return nil, &MediaReadError{Path: videoPath, Frame: -1, Err: err}
	}
	defer dec.Close()

	out := make(ocr.Page, 0, len(page))
	var prev image.Image
	for _, kf := range page {
		n := kf.Key.Midpoint()
		img, err := dec.FrameAt(ctx, n)
		if err != nil {
			if IsMediaRead(err) {
				return nil, err
			}
			return nil, &MediaReadError{Path: videoPath, Frame: n, Err: err}
		}

		f := kf.Frame
		if f.Repeat && prev != nil {
			d := ChiSquare(HSVHistogram(prev), HSVHistogram(img))
			if d > m.threshold {
				m.logger.Debug("repeat frame differs from previous image", "frame", n, "distance", d)
				f.Repeat = false
			}
		}

		name := uuid.NewString() + ".jpg"
		if err := m.writeJPEG(imgDir, name, img); err != nil {
			return nil, err
		}
		f.ID = name
		out = append(out, ocr.KeyedFrame{Key: kf.Key, Frame: f})
		prev = img
	}
	return out, nil
}

func (m *Materializer) writeJPEG(dir, name string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := fsx.WriteFileAtomic(dir, name, buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
