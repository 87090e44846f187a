package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Local stores files below a root directory.
type Local struct {
	root string
	mu   sync.Mutex
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(ref string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(ref)) {
		return "", fmt.Errorf("storage ref %q escapes root", ref)
	}
	return filepath.Join(l.root, filepath.FromSlash(ref)), nil
}

// Allocate reserves a ref by creating an empty placeholder with O_EXCL.
func (l *Local) Allocate(_ context.Context, name, ext string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n := 0; n <= maxCounter; n++ {
		ref := candidate(name, ext, n)
		p, err := l.path(ref)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", fmt.Errorf("creating directory for %s: %w", ref, err)
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserving %s: %w", ref, err)
		}
		f.Close()
		return ref, nil
	}
	return "", fmt.Errorf("no free name for %s%s after %d attempts", name, ext, maxCounter)
}

// Put writes data through a temp file and renames it over the placeholder.
func (l *Local) Put(_ context.Context, ref string, data []byte) error {
	p, err := l.path(ref)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", ref, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", ref, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("renaming into %s: %w", ref, err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, ref string) ([]byte, error) {
	p, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return data, err
}

func (l *Local) Delete(_ context.Context, ref string) error {
	p, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	return nil
}
