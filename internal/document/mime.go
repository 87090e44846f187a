package document

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeTIFF = "image/tiff"
	MimeGIF  = "image/gif"
	MimeBMP  = "image/bmp"
	MimeWebP = "image/webp"
)

var extensions = map[string]string{
	MimePDF:  ".pdf",
	MimePNG:  ".png",
	MimeJPEG: ".jpg",
	MimeTIFF: ".tiff",
	MimeGIF:  ".gif",
	MimeBMP:  ".bmp",
	MimeWebP: ".webp",
}

var byExtension = map[string]string{
	".pdf":  MimePDF,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".tif":  MimeTIFF,
	".tiff": MimeTIFF,
	".gif":  MimeGIF,
	".bmp":  MimeBMP,
	".webp": MimeWebP,
}

// DetectMime sniffs the content type of data. Content wins over the file
// name; the extension is only consulted when sniffing is inconclusive.
// An unrecognised document yields "".
func DetectMime(data []byte, filename string) string {
	if len(data) == 0 {
		return ""
	}
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return MimeTIFF
	}
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if _, ok := extensions[sniffed]; ok {
		return sniffed
	}
	if sniffed == "application/octet-stream" {
		if m, ok := byExtension[strings.ToLower(filepath.Ext(filename))]; ok && m != MimePDF {
			return m
		}
	}
	return ""
}

// Supported reports whether the pipeline can consume documents of this type.
func Supported(mime string) bool {
	_, ok := extensions[mime]
	return ok
}

// IsImage reports whether mime is one of the supported raster formats.
func IsImage(mime string) bool {
	return Supported(mime) && mime != MimePDF
}

// Extension returns the canonical file extension for mime, including the dot.
func Extension(mime string) string {
	return extensions[mime]
}
