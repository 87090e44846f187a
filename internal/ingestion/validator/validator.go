// Package validator checks uploads before they are written to disk: size,
// file name, detected content type and the metadata overrides. It returns
// per-field error details.
package validator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

const (
	maxTitleLength    = 1024
	maxFilenameLength = 255
	maxTags           = 100
	maxTagLength      = 128
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Upload describes a received file.
type Upload struct {
	Filename string
	Size     int64
	// Head is the first bytes of the content, used for type detection.
	Head      []byte
	Overrides document.Overrides
}

// ValidateUpload checks u against maxBytes and returns the detected MIME
// type. Anything the pipeline would reject as unsupported or empty is
// refused here.
func ValidateUpload(u Upload, maxBytes int64) (string, error) {
	errs := make(map[string]string)

	name := strings.TrimSpace(u.Filename)
	switch {
	case name == "":
		errs["file"] = "a file name is required"
	case len(name) > maxFilenameLength:
		errs["file"] = fmt.Sprintf("file name must be at most %d bytes", maxFilenameLength)
	case name != filepath.Base(name) || strings.HasPrefix(name, "."):
		errs["file"] = "file name must be a plain, non-hidden name"
	case !utf8.ValidString(name):
		errs["file"] = "file name must be valid UTF-8"
	}

	mime := ""
	switch {
	case u.Size == 0:
		errs["file"] = "file is empty"
	case maxBytes > 0 && u.Size > maxBytes:
		errs["file"] = fmt.Sprintf("file must be at most %d bytes", maxBytes)
	default:
		mime = document.DetectMime(u.Head, name)
		if !document.Supported(mime) {
			errs["file"] = "unsupported file type"
		}
	}

	validateOverrides(u.Overrides, errs)

	if len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}
	return mime, nil
}

func validateOverrides(ov document.Overrides, errs map[string]string) {
	if len(ov.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(ov.Tags) > maxTags {
		errs["tags"] = fmt.Sprintf("at most %d tags", maxTags)
	}
	for _, tag := range ov.Tags {
		if strings.TrimSpace(tag) == "" || len(tag) > maxTagLength {
			errs["tags"] = fmt.Sprintf("tags must be non-empty and at most %d characters", maxTagLength)
			break
		}
	}
	if ov.ASN != "" && strings.Trim(ov.ASN, "0123456789") != "" {
		errs["asn"] = "archive serial number must be numeric"
	}
	if strings.Contains(ov.StoragePath, "..") {
		errs["storage_path"] = "storage path must not contain '..'"
	}
}
