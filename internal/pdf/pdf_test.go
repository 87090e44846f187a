package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

func TestExtractKeepsSelectedPages(t *testing.T) {
	src, err := Synthetic(3)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := PageCount(src); err != nil || n != 3 {
		t.Fatalf("PageCount = %d, %v", n, err)
	}
	part, err := Extract(src, []int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := PageCount(part); n != 2 {
		t.Errorf("extracted page count = %d, want 2", n)
	}
	if _, err := Extract(src, nil); err == nil {
		t.Error("expected error for empty selection")
	}
}

func TestFromImage(t *testing.T) {
	pngData := SyntheticPNG(10, 10, color.White)
	out, err := FromImage(pngData, document.MimePNG, 0)
	if err != nil {
		t.Fatalf("FromImage(png): %v", err)
	}
	if n, _ := PageCount(out); n != 1 {
		t.Errorf("page count = %d", n)
	}

	var gifBuf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	if err := gif.Encode(&gifBuf, pal, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := FromImage(gifBuf.Bytes(), document.MimeGIF, 0); err != nil {
		t.Fatalf("FromImage(gif): %v", err)
	}

	if _, err := FromImage(pngData, document.MimePNG, 50); err == nil {
		t.Error("expected pixel limit to be enforced")
	}
}

func TestFromImageIsDeterministic(t *testing.T) {
	var gifBuf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	_ = gif.Encode(&gifBuf, pal, nil)
	a, err := toPNG(gifBuf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := toPNG(gifBuf.Bytes())
	if !bytes.Equal(a, b) {
		t.Error("normalisation is not deterministic")
	}
}
