package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
)

// S3 stores objects under a key prefix in one bucket. Allocation is
// synchronised in-process through reserved; StatObject guards against keys
// written by earlier runs.
type S3 struct {
	client   *minio.Client
	bucket   string
	prefix   string
	mu       sync.Mutex
	reserved map[string]bool
}

func NewS3(client *minio.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, reserved: make(map[string]bool)}
}

func (s *S3) key(ref string) string {
	return s.prefix + ref
}

func (s *S3) Allocate(ctx context.Context, name, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := 0; n <= maxCounter; n++ {
		ref := candidate(name, ext, n)
		if s.reserved[ref] {
			continue
		}
		_, err := s.client.StatObject(ctx, s.bucket, s.key(ref), minio.StatObjectOptions{})
		if err == nil {
			continue
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return "", fmt.Errorf("s3 stat %s: %w", ref, err)
		}
		s.reserved[ref] = true
		return ref, nil
	}
	return "", fmt.Errorf("no free key for %s%s after %d attempts", name, ext, maxCounter)
}

func (s *S3) Put(ctx context.Context, ref string, data []byte) error {
	contentType := mime.TypeByExtension(path.Ext(ref))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(ref), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", ref, err)
	}
	s.mu.Lock()
	delete(s.reserved, ref)
	s.mu.Unlock()
	return nil
}

func (s *S3) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(ref), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object %s: %w", ref, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 read object %s: %w", ref, err)
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	delete(s.reserved, ref)
	s.mu.Unlock()
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(ref), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 remove object %s: %w", ref, err)
	}
	return nil
}
