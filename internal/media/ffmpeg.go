package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dshills/mmifviz/internal/mmif"
)

// FFmpeg opens videos with the ffmpeg and ffprobe executables.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// NewFFmpeg returns an opener using the given executables; empty paths mean
// "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: logger}
}

// Open checks the video exists and reads its frame rate.
func (f *FFmpeg) Open(ctx context.Context, path string) (Decoder, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &MediaReadError{Path: path, Frame: -1, Err: err}
	}
	if fi.IsDir() {
		return nil, &MediaReadError{Path: path, Frame: -1, Err: errors.New("is a directory")}
	}
	fps, err := f.frameRate(ctx, path)
	if err != nil {
		f.Logger.Warn("could not read frame rate, using default", "video", path, "fps", mmif.DefaultFPS, "error", err)
		fps = mmif.DefaultFPS
	}
	return &ffmpegDecoder{ffmpeg: f.FFmpegPath, path: path, fps: fps}, nil
}

func (f *FFmpeg) frameRate(ctx context.Context, path string) (float64, error) {
	out, err := run(ctx, f.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	return parseRate(strings.TrimSpace(string(out)))
}

// parseRate reads ffprobe rates such as "30000/1001" or "25".
func parseRate(s string) (float64, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	if n/d <= 0 {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	return n / d, nil
}

type ffmpegDecoder struct {
	ffmpeg string
	path   string
	fps    float64
}

// FrameAt seeks to n/fps seconds and decodes one frame as PNG.
func (d *ffmpegDecoder) FrameAt(ctx context.Context, n int) (image.Image, error) {
	secs := float64(n) / d.fps
	out, err := run(ctx, d.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(secs, 'f', 3, 64),
		"-i", d.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-")
	if err != nil {
		return nil, &MediaReadError{Path: d.path, Frame: n, Err: err}
	}
	if len(out) == 0 {
		return nil, &MediaReadError{Path: d.path, Frame: n, Err: errors.New("no frame at that position")}
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, &MediaReadError{Path: d.path, Frame: n, Err: err}
	}
	return img, nil
}

func (d *ffmpegDecoder) Close() error { return nil }

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
