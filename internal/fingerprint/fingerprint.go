// Package fingerprint computes the content hash used for duplicate
// detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// Compute returns the hex SHA-256 of data. Identical bytes always yield the
// same hash.
func Compute(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.Reject(apperrors.ReasonEmptyDocument, nil, "zero-length input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// File streams the file at path through SHA-256.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	if n == 0 {
		return "", apperrors.Reject(apperrors.ReasonEmptyDocument, nil, "%s is empty", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Part derives the hash of a split-out part from the hash of its source and
// the source pages it holds. Rewritten PDF bytes differ between runs, so a
// part is identified by where it came from instead.
func Part(sourceHash string, pages []int) string {
	h := sha256.New()
	io.WriteString(h, sourceHash)
	for _, p := range pages {
		io.WriteString(h, ":"+strconv.Itoa(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
