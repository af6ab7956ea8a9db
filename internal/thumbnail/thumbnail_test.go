package thumbnail

import (
	"bytes"
	"image/jpeg"
	"testing"
)

func TestGeneratePlaceholder(t *testing.T) {
	data, err := GeneratePlaceholder(42)
	if err != nil {
		t.Fatalf("GeneratePlaceholder: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 400 || bounds.Dy() != 600 {
		t.Errorf("dimensions = %dx%d, want 400x600", bounds.Dx(), bounds.Dy())
	}
}

func TestGeneratePlaceholderZeroPages(t *testing.T) {
	data, err := GeneratePlaceholder(0)
	if err != nil {
		t.Fatalf("GeneratePlaceholder: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := PageCount([]byte("not a pdf at all")); err == nil {
		t.Error("PageCount accepted garbage")
	}
	if _, err := PageCount(nil); err == nil {
		t.Error("PageCount accepted empty input")
	}
}
