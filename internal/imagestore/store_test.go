package imagestore

import (
	"bytes"
	"image"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSaveAndRead(t *testing.T) {
	root := t.TempDir()
	store := New(root).WithLocation(time.UTC)

	id := uuid.MustParse("0b5e5a4e-3f4a-4c43-9b1a-5d3d8c3f2e10")
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	name, err := store.Save(image.NewRGBA(image.Rect(0, 0, 16, 8)), id, at)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if want := id.String() + "_140507.jpg"; name != want {
		t.Errorf("name %q, want %q", name, want)
	}
	if want := filepath.Join(root, "2024-03-09", name); store.Path(name, at) != want {
		t.Errorf("path %q, want %q", store.Path(name, at), want)
	}

	data, ok, err := store.Read(name, at)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Size() != image.Pt(16, 8) {
		t.Errorf("unexpected size %v", img.Bounds().Size())
	}
}

func TestReadMissing(t *testing.T) {
	store := New(t.TempDir())
	for _, name := range []string{"", "absent.jpg"} {
		data, ok, err := store.Read(name, time.Now())
		if data != nil || ok || err != nil {
			t.Errorf("%q: expected missing, got ok=%v err=%v", name, ok, err)
		}
	}
}

func TestDayFolderUsesLocation(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	store := New("/data").WithLocation(zone)
	at := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)

	if got, want := store.Path("x.jpg", at), filepath.Join("/data", "2024-03-10", "x.jpg"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
