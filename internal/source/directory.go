package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirectorySource replays the still images of a folder in name order.
type DirectorySource struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	closed bool
}

func NewDirectorySource(dir string, loop bool) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &DirectorySource{files: files, loop: loop}, nil
}

func (s *DirectorySource) TryReadFrame(ctx context.Context) (image.Image, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	if s.next >= len(s.files) {
		if !s.loop || len(s.files) == 0 {
			s.mu.Unlock()
			return nil, false, nil
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, true, nil
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
