package consumer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ocr"
)

// Splitter breaks a scan into the documents it contains.
type Splitter interface {
	Split(ctx context.Context, doc document.WorkingDocument) ([]document.WorkingDocument, []string, error)
}

// Extractor produces the archive rendition and text of a document.
type Extractor interface {
	Extract(ctx context.Context, doc document.WorkingDocument, langs []string) (ocr.Extraction, error)
}

// Classifier suggests metadata. It never fails.
type Classifier interface {
	Classify(text string, f classifier.Features) classifier.Suggestions
}

// Index is the search index write path. Remove compensates an Index whose
// record was not committed.
type Index interface {
	Index(ctx context.Context, rec *document.ArchiveRecord) error
	Remove(ctx context.Context, id int64) error
}

// StageObserver is told about every finished stage.
type StageObserver interface {
	Stage(taskID, stage string, d time.Duration, err error)
}
