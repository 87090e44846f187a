package document

import (
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

func TestDetectMime(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     string
	}{
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), "scan.bin", MimePDF},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "x", MimePNG},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF"), "x.jpg", MimeJPEG},
		{"tiff little endian", []byte("II*\x00\x08\x00\x00\x00"), "x", MimeTIFF},
		{"tiff big endian", []byte("MM\x00*\x00\x00\x00\x08"), "x", MimeTIFF},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "x", MimeGIF},
		{"text is unsupported", []byte("hello world"), "notes.pdf", ""},
		{"empty", nil, "a.pdf", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMime(tt.data, tt.filename); got != tt.want {
				t.Errorf("DetectMime = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	ok := DocumentOutcome{Status: StatusSuccess, ArchiveRecordID: 7}
	dup := DocumentOutcome{Status: StatusRejected, Reason: apperrors.ReasonDuplicate}
	ocr := DocumentOutcome{Status: StatusFailed, Reason: apperrors.ReasonOcrFailure, Message: "timeout"}

	tests := []struct {
		name     string
		branches []DocumentOutcome
		status   Status
		reason   apperrors.Reason
	}{
		{"single success", []DocumentOutcome{ok}, StatusSuccess, ""},
		{"success and duplicate", []DocumentOutcome{dup, ok}, StatusSuccess, ""},
		{"failure wins", []DocumentOutcome{ok, ocr}, StatusFailed, apperrors.ReasonOcrFailure},
		{"all duplicates", []DocumentOutcome{dup, dup}, StatusRejected, apperrors.ReasonDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Merge("t", tt.branches)
			if out.Status != tt.status || out.Reason != tt.reason {
				t.Errorf("Merge = %s/%s, want %s/%s", out.Status, out.Reason, tt.status, tt.reason)
			}
			if tt.status == StatusSuccess && out.ArchiveRecordID != 7 {
				t.Errorf("ArchiveRecordID = %d", out.ArchiveRecordID)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(nil) != StatusSuccess {
		t.Error("nil should be success")
	}
	if StatusFor(apperrors.Reject(apperrors.ReasonDuplicate, nil, "")) != StatusRejected {
		t.Error("reject should be rejected")
	}
	if StatusFor(apperrors.Fatal(nil, "x")) != StatusFailed {
		t.Error("fatal should surface as failed")
	}
}
