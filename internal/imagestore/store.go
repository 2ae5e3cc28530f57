package imagestore

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	dayLayout  = "2006-01-02"
	timeLayout = "150405"
)

// Store keeps detection snapshots under {root}/{yyyy-MM-dd}/{id}_{HHmmss}.jpg.
type Store struct {
	root    string
	loc     *time.Location
	quality int
}

func New(root string) *Store {
	return &Store{root: root, loc: time.Local, quality: 90}
}

// WithLocation sets the zone used for folder and file names.
func (s *Store) WithLocation(loc *time.Location) *Store {
	s.loc = loc
	return s
}

// FileName is the name a snapshot taken at `at` gets on disk.
func (s *Store) FileName(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s_%s.jpg", id, at.In(s.loc).Format(timeLayout))
}

func (s *Store) Path(fileName string, at time.Time) string {
	return filepath.Join(s.root, at.In(s.loc).Format(dayLayout), fileName)
}

func (s *Store) Save(img image.Image, id uuid.UUID, at time.Time) (string, error) {
	name := s.FileName(id, at)
	path := s.Path(name, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create image folder: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// Read returns the stored bytes. A missing file is reported through ok, not err.
func (s *Store) Read(fileName string, at time.Time) ([]byte, bool, error) {
	if fileName == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(s.Path(fileName, at))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
