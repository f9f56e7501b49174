package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSource reads from a random access input of a fixed size.
type FileSource struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewFileSource creates a finite source. The reader is not closed by Close.
func NewFileSource(r io.ReaderAt, size int64) *FileSource {
	return &FileSource{r: r, size: size}
}

// NewBytesSource creates a finite source backed by memory.
func NewBytesSource(data []byte) *FileSource {
	return NewFileSource(bytes.NewReader(data), int64(len(data)))
}

// OpenFile opens the file at path as a finite source owning the file handle.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return FromFile(file)
}

// FromFile creates a finite source owning file. file is closed when the stat fails.
func FromFile(file *os.File) (*FileSource, error) {
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{r: file, size: info.Size(), closer: file}, nil
}

// Size ...
func (s *FileSource) Size() (int64, bool) {
	return s.size, true
}

// Slice ...
func (s *FileSource) Slice(_ context.Context, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	if start >= s.size {
		return nil, io.EOF
	}
	if end > s.size {
		end = s.size
	}

	chunk := make([]byte, end-start)
	n, err := s.r.ReadAt(chunk, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read range [%d, %d): %w", start, end, err)
	}
	if int64(n) != end-start {
		return nil, fmt.Errorf("read range [%d, %d): short read of %d bytes", start, end, n)
	}

	return chunk, nil
}

// Close ...
func (s *FileSource) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
