package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// Synthetic builds an n-page PDF whose pages are small solid images with
// distinct shades. Tests across the module use it instead of checked-in
// fixtures.
func Synthetic(n int) ([]byte, error) {
	readers := make([]io.Reader, n)
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		for p := range img.Pix {
			img.Pix[p] = uint8(20 * (i + 1))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		readers[i] = &buf
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), configuration()); err != nil {
		return nil, fmt.Errorf("building synthetic pdf: %w", err)
	}
	return out.Bytes(), nil
}

// SyntheticPNG returns an encoded w x h image of a single colour.
func SyntheticPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
