// Package pdf wraps the pdfcpu operations the pipeline needs: page counting,
// page-group extraction and image-to-PDF conversion.
package pdf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), configuration())
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}

// Extract writes a new PDF holding only the given 1-based pages of data, in
// order.
func Extract(data []byte, pages []int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("extracting pages: empty page selection")
	}
	selection := make([]string, len(pages))
	for i, p := range pages {
		selection[i] = strconv.Itoa(p)
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &out, selection, configuration()); err != nil {
		return nil, fmt.Errorf("extracting pages %v: %w", pages, err)
	}
	return out.Bytes(), nil
}

// FromImage converts a single raster image into a one-page PDF. Formats
// pdfcpu cannot import directly are re-encoded as PNG first. Images larger
// than maxPixels (when positive) are refused.
func FromImage(data []byte, mime string, maxPixels float64) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading image header: %w", err)
	}
	if maxPixels > 0 && float64(cfg.Width)*float64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("image is %dx%d, above the %.0f pixel limit", cfg.Width, cfg.Height, maxPixels)
	}

	var src io.Reader = bytes.NewReader(data)
	if mime != document.MimePNG && mime != document.MimeJPEG {
		normalised, err := toPNG(data)
		if err != nil {
			return nil, err
		}
		src = bytes.NewReader(normalised)
	}

	imp := pdfcpu.DefaultImportConfig()
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{src}, imp, configuration()); err != nil {
		return nil, fmt.Errorf("importing image: %w", err)
	}
	return out.Bytes(), nil
}

// toPNG decodes any registered image format (only the first frame of a GIF
// or multi-page TIFF) and re-encodes it as PNG. The output depends only on
// the decoded pixels.
func toPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
