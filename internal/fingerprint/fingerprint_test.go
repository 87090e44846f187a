package fingerprint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

func TestComputeIsDeterministic(t *testing.T) {
	data := []byte("%PDF-1.4 invoice 2024-001")
	a, err := Compute(data)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Compute(append([]byte(nil), data...))
	if a != b {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	c, _ := Compute([]byte("%PDF-1.4 invoice 2024-002"))
	if a == c {
		t.Error("different content produced the same hash")
	}
}

func TestComputeKnownVector(t *testing.T) {
	got, _ := Compute([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Compute(abc) = %s", got)
	}
}

func TestEmptyIsRejected(t *testing.T) {
	_, err := Compute(nil)
	if !errors.Is(err, apperrors.ErrEmptyDocument) || apperrors.KindOf(err) != apperrors.KindRejected {
		t.Fatalf("expected rejected EmptyDocument, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "empty.pdf")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := File(path); !errors.Is(err, apperrors.ErrEmptyDocument) {
		t.Fatalf("File on empty file: %v", err)
	}
}

func TestFileMatchesCompute(t *testing.T) {
	data := []byte("scanned bytes")
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	fromBytes, _ := Compute(data)
	if fromFile != fromBytes {
		t.Errorf("File = %s, Compute = %s", fromFile, fromBytes)
	}
}

func TestPartIsStableAndDistinct(t *testing.T) {
	src, _ := Compute([]byte("three page scan"))
	first := Part(src, []int{1})
	if first != Part(src, []int{1}) {
		t.Error("Part is not deterministic")
	}
	seen := map[string]bool{first: true}
	for _, pages := range [][]int{{2, 3}, {1, 2}, {12}, {1, 2, 3}} {
		h := Part(src, pages)
		if seen[h] || h == src {
			t.Errorf("Part(%v) collides", pages)
		}
		seen[h] = true
	}
}
