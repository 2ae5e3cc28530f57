package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const maxFrameBytes = 32 << 20

// SplitJpeg is a bufio.SplitFunc that yields complete JPEG images from an MJPEG
// byte stream, skipping anything between frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegSource decodes any ffmpeg input to MJPEG on a pipe and reads it frame
// by frame. The process starts on the first read.
type FFmpegSource struct {
	input  string
	format string
	fps    int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	stderr  stderrBuffer
	done    bool
}

// stderrBuffer collects ffmpeg diagnostics. The exec copier goroutine writes
// while readers may report it on failure.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}

func NewFFmpegSource(input, format string, fps int) *FFmpegSource {
	return &FFmpegSource{input: input, format: format, fps: fps}
}

// Args returns the ffmpeg command line used for the input.
func (s *FFmpegSource) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.format != "" {
		args = append(args, "-f", s.format)
	}
	args = append(args, "-i", s.input)
	if s.fps > 0 {
		args = append(args, "-vf", "fps="+strconv.Itoa(s.fps))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

func (s *FFmpegSource) start() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	cmd := exec.Command("ffmpeg", s.Args()...)
	cmd.Stderr = &s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(SplitJpeg)

	s.cmd, s.stdout, s.scanner = cmd, stdout, scanner
	return nil
}

func (s *FFmpegSource) TryReadFrame(ctx context.Context) (image.Image, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, false, nil
	}
	if s.scanner == nil {
		if err := s.start(); err != nil {
			return nil, false, err
		}
	}

	if !s.scanner.Scan() {
		s.done = true
		if err := s.scanner.Err(); err != nil {
			return nil, false, fmt.Errorf("read ffmpeg stream: %w (%s)", err, s.stderr.String())
		}
		return nil, false, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
	if err != nil {
		return nil, false, fmt.Errorf("decode frame: %w", err)
	}
	return img, true, nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.stdout.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	return nil
}
