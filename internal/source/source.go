package source

import (
	"context"
	"errors"
	"image"
	"os"
	"strconv"
)

var ErrClosed = errors.New("frame source closed")

// Source produces raw frames on demand. ok is false when no frame is available,
// e.g. at the end of a file.
type Source interface {
	TryReadFrame(ctx context.Context) (frame image.Image, ok bool, err error)
	Close() error
}

type Options struct {
	Fps  int
	Loop bool
}

// Open picks the source implementation for a configured VideoSource: a directory
// of still images, or anything ffmpeg can read (file, stream URL, camera index).
func Open(videoSource string, opts Options) (Source, error) {
	if info, err := os.Stat(videoSource); err == nil && info.IsDir() {
		return NewDirectorySource(videoSource, opts.Loop)
	}

	input, format := videoSource, ""
	if n, err := strconv.Atoi(videoSource); err == nil && n >= 0 {
		input, format = "/dev/video"+videoSource, "v4l2"
	}
	return NewFFmpegSource(input, format, opts.Fps), nil
}
