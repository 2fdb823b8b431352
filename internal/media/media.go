package media

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Decoder reads single frames from one open video.
type Decoder interface {
	// FrameAt returns the image at frame index n.
	FrameAt(ctx context.Context, n int) (image.Image, error)
	Close() error
}

// Opener opens decoders. Each call returns a handle the caller owns.
type Opener interface {
	Open(ctx context.Context, path string) (Decoder, error)
}

// MediaReadError reports a video that is missing or a frame that could not
// be decoded. Frame is -1 when the video itself could not be opened.
type MediaReadError struct {
	Path  string
	Frame int
	Err   error
}

func (e *MediaReadError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("reading video %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("reading frame %d of %s: %v", e.Frame, e.Path, e.Err)
}

func (e *MediaReadError) Unwrap() error { return e.Err }

// IsMediaRead reports whether err is a *MediaReadError.
func IsMediaRead(err error) bool {
	var e *MediaReadError
	return errors.As(err, &e)
}
