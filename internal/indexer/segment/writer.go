package segment

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

// Segment file layout: header, postings, dictionary, footer. The header's
// magic spells "DSEG" on disk.
const (
	MagicBytes    uint32 = 0x47455344
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".dseg"
)

type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// DictEntry locates one term's postings, relative to the postings section.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Writer flushes the in-memory index into immutable segment files. Removed
// records are not rewritten here; the engine keeps their tombstones.
type Writer struct {
	dataDir string
	now     func() time.Time
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir, now: time.Now}
}

// Write creates a segment holding entries and returns its file name. The
// file appears under its final name only once complete and synced.
func (w *Writer) Write(entries []index.TermEntry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	data, err := w.encode(entries)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	name := fmt.Sprintf("seg_%019d%s", w.now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"
	if err := writeSynced(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	if err := syncDir(w.dataDir); err != nil {
		return "", fmt.Errorf("syncing segment directory: %w", err)
	}
	return name, nil
}

// encode lays out a whole segment. The dictionary is sorted by term so the
// reader can binary search it.
func (w *Writer) encode(entries []index.TermEntry) ([]byte, error) {
	entries = slices.SortedFunc(slices.Values(entries), func(a, b index.TermEntry) int {
		return cmp.Compare(a.Term, b.Term)
	})

	var postings bytes.Buffer
	dict := make([]DictEntry, 0, len(entries))
	records := make(map[string]struct{})
	for _, entry := range entries {
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return nil, fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: int64(postings.Len()),
			PostLen:    len(data),
			DocFreq:    len(entry.Postings),
		})
		postings.Write(data)
		for _, p := range entry.Postings {
			records[p.DocID] = struct{}{}
		}
	}
	dictData, err := json.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("marshaling dictionary: %w", err)
	}

	h := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(dict)),
		DocCount:   uint32(len(records)),
		CreatedAt:  w.now().Unix(),
		PostOffset: int64(HeaderSize),
		PostSize:   int64(postings.Len()),
	}
	h.DictOffset = h.PostOffset + h.PostSize
	h.DictSize = int64(len(dictData))

	out := make([]byte, 0, HeaderSize+postings.Len()+len(dictData)+FooterSize)
	out = append(out, encodeHeader(h)...)
	out = append(out, postings.Bytes()...)
	out = append(out, dictData...)
	out = append(out, encodeFooter(h, crc32.ChecksumIEEE(dictData))...)
	return out, nil
}

func encodeHeader(h SegmentHeader) []byte {
	le := binary.LittleEndian
	b := make([]byte, HeaderSize)
	le.PutUint32(b[0:4], h.Magic)
	le.PutUint32(b[4:8], h.Version)
	le.PutUint32(b[8:12], h.TermCount)
	le.PutUint32(b[12:16], h.DocCount)
	le.PutUint64(b[16:24], uint64(h.DictOffset))
	le.PutUint64(b[24:32], uint64(h.DictSize))
	le.PutUint64(b[32:40], uint64(h.PostOffset))
	le.PutUint64(b[40:48], uint64(h.PostSize))
	le.PutUint64(b[48:56], uint64(h.CreatedAt))
	return b
}

// encodeFooter repeats the dictionary location after the checksum so a
// truncated or spliced file is caught on open.
func encodeFooter(h SegmentHeader, dictSum uint32) []byte {
	le := binary.LittleEndian
	b := make([]byte, FooterSize)
	le.PutUint32(b[0:4], dictSum)
	le.PutUint32(b[4:8], h.DocCount)
	le.PutUint64(b[8:16], uint64(h.DictOffset))
	le.PutUint64(b[16:24], uint64(h.DictSize))
	le.PutUint64(b[24:32], uint64(h.PostSize))
	return b
}

func writeSynced(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing segment file: %w", err)
	}
	return f.Close()
}

// syncDir makes a completed rename durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
