// Package storage keeps original and archive files. Every file gets a unique
// ref from Allocate before any bytes are written, so two workers can never
// claim the same path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
)

var ErrNotFound = errors.New("storage object not found")

// maxCounter bounds the _01, _02, ... suffix search.
const maxCounter = 9999

type Backend interface {
	// Allocate reserves a unique ref for name+ext, adding a counter suffix
	// when the plain name is taken.
	Allocate(ctx context.Context, name, ext string) (string, error)
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the object and its reservation. Deleting a missing ref
	// is not an error.
	Delete(ctx context.Context, ref string) error
}

// Open builds the originals and archive backends selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (originals Backend, archive Backend, err error) {
	switch cfg.Backend {
	case "", "local":
		originals, err = NewLocal(cfg.OriginalsDir)
		if err != nil {
			return nil, nil, err
		}
		archive, err = NewLocal(cfg.ArchiveDir)
		if err != nil {
			return nil, nil, err
		}
		return originals, archive, nil
	case "s3":
		client, err := minio.New(cfg.S3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
			Secure: cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating s3 client: %w", err)
		}
		exists, err := client.BucketExists(ctx, cfg.S3Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("checking bucket %s: %w", cfg.S3Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, nil, fmt.Errorf("creating bucket %s: %w", cfg.S3Bucket, err)
			}
		}
		return NewS3(client, cfg.S3Bucket, "originals/"), NewS3(client, cfg.S3Bucket, "archive/"), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// candidate returns the ref for counter n: name.ext, then name_01.ext and so
// on.
func candidate(name, ext string, n int) string {
	if n == 0 {
		return name + ext
	}
	return fmt.Sprintf("%s_%02d%s", name, n, ext)
}

// Fields are the values a filename format can reference.
type Fields struct {
	Title            string
	Correspondent    string
	DocumentType     string
	ASN              string
	OriginalFilename string
	Tags             []string
	Created          time.Time
}

const noneValue = "none"

// Filename renders format with fields and sanitises the result into a
// relative, slash-separated path without an extension. Placeholders are
// {title}, {correspondent}, {document_type}, {asn}, {original_name},
// {tag_list}, {created_year}, {created_month} and {created_day}. An empty
// format yields the title.
func Filename(format string, f Fields) string {
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	if format == "" {
		format = "{title}"
	}
	original := strings.TrimSuffix(f.OriginalFilename, path.Ext(f.OriginalFilename))
	r := strings.NewReplacer(
		"{title}", sanitise(f.Title),
		"{correspondent}", sanitise(f.Correspondent),
		"{document_type}", sanitise(f.DocumentType),
		"{asn}", sanitise(f.ASN),
		"{original_name}", sanitise(original),
		"{tag_list}", sanitise(strings.Join(f.Tags, ",")),
		"{created_year}", f.Created.Format("2006"),
		"{created_month}", f.Created.Format("01"),
		"{created_day}", f.Created.Format("02"),
	)
	rendered := r.Replace(format)

	parts := strings.Split(rendered, "/")
	clean := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return noneValue
	}
	return strings.Join(clean, "/")
}

// sanitise makes v safe as a single path segment.
func sanitise(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return noneValue
	}
	v = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, v)
	v = strings.Trim(v, ". ")
	if v == "" {
		return noneValue
	}
	if r := []rune(v); len(r) > 128 {
		v = string(r[:128])
	}
	return v
}
