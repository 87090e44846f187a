// Package segment reads and writes the immutable on-disk index segments:
// a fixed header, JSON posting lists, a sorted JSON term dictionary and a
// checksummed footer.
//
// The archive records in the store are authoritative; a segment only
// carries derived search data. A segment that fails validation on open is
// reported as ErrCorrupt so the engine can skip it instead of serving
// postings for the wrong records.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

// ErrCorrupt marks a segment whose layout or checksum does not add up.
var ErrCorrupt = errors.New("corrupt index segment")

type Reader struct {
	file   *os.File
	name   string
	header SegmentHeader
	dict   []DictEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	r.name = filepath.Base(path)
	return r, nil
}

func load(f *os.File) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: %d bytes is shorter than header and footer", ErrCorrupt, size)
	}

	raw := make([]byte, HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	body := size - int64(FooterSize)
	if header.PostOffset < int64(HeaderSize) || header.PostOffset+header.PostSize > header.DictOffset ||
		header.DictOffset+header.DictSize > body {
		return nil, fmt.Errorf("%w: sections overrun the file (%d bytes)", ErrCorrupt, size)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, body); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if int64(binary.LittleEndian.Uint64(footer[8:16])) != header.DictOffset ||
		int64(binary.LittleEndian.Uint64(footer[16:24])) != header.DictSize {
		return nil, fmt.Errorf("%w: header and footer disagree on the dictionary", ErrCorrupt)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if sum := crc32.ChecksumIEEE(dictBytes); sum != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: dictionary checksum %08x does not match footer", ErrCorrupt, sum)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %v", ErrCorrupt, err)
	}
	if len(dict) != int(header.TermCount) {
		return nil, fmt.Errorf("%w: %d dictionary terms, header says %d", ErrCorrupt, len(dict), header.TermCount)
	}
	return &Reader{file: f, header: header, dict: dict}, nil
}

func decodeHeader(b []byte) (SegmentHeader, error) {
	le := binary.LittleEndian
	h := SegmentHeader{
		Magic:      le.Uint32(b[0:4]),
		Version:    le.Uint32(b[4:8]),
		TermCount:  le.Uint32(b[8:12]),
		DocCount:   le.Uint32(b[12:16]),
		DictOffset: int64(le.Uint64(b[16:24])),
		DictSize:   int64(le.Uint64(b[24:32])),
		PostOffset: int64(le.Uint64(b[32:40])),
		PostSize:   int64(le.Uint64(b[40:48])),
		CreatedAt:  int64(le.Uint64(b[48:56])),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported segment format version %d", h.Version)
	}
	return h, nil
}

// Search returns the postings of an already normalised term, or nil when
// the segment does not contain it.
func (r *Reader) Search(term string) (index.PostingList, error) {
	i, found := slices.BinarySearchFunc(r.dict, term, func(e DictEntry, t string) int {
		return strings.Compare(e.Term, t)
	})
	if !found {
		return nil, nil
	}
	entry := r.dict[i]
	buf := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(buf, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings of %q in %s: %w", term, r.name, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, fmt.Errorf("%w: postings of %q in %s: %v", ErrCorrupt, term, r.name, err)
	}
	return postings, nil
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) Terms() int { return len(r.dict) }

// DocCount is the number of archive records with postings in the segment,
// tombstoned ones included.
func (r *Reader) DocCount() uint32 { return r.header.DocCount }

// CreatedAt is when the segment was flushed.
func (r *Reader) CreatedAt() time.Time { return time.Unix(r.header.CreatedAt, 0) }

func (r *Reader) Close() error {
	return r.file.Close()
}
