package urlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as a JSON object in a single file. The file is
// rewritten on every change by writing a temporary file and renaming it.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a Store backed by path. The file is created on the first Set.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &File{path: path}, nil
}

// Get ...
func (f *File) Get(_ context.Context, fingerprint string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	urls, err := f.read()
	if err != nil {
		return "", false, err
	}
	url, ok := urls[fingerprint]
	return url, ok, nil
}

// Set ...
func (f *File) Set(_ context.Context, fingerprint, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	urls, err := f.read()
	if err != nil {
		return err
	}
	urls[fingerprint] = url
	return f.write(urls)
}

// Delete ...
func (f *File) Delete(_ context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	urls, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := urls[fingerprint]; !ok {
		return nil
	}
	delete(urls, fingerprint)
	return f.write(urls)
}

func (f *File) read() (map[string]string, error) {
	urls := map[string]string{}

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return urls, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(b) == 0 {
		return urls, nil
	}
	if err := json.Unmarshal(b, &urls); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", f.path, err)
	}
	return urls, nil
}

func (f *File) write(urls map[string]string) error {
	b, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temporary store file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(b); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
