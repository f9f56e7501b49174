package source

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamSource serves forward-only slices of a stream of fragments. It keeps a
// window of buffered bytes so a slice can be served again after a failed
// request, and trims the window once it holds two chunks worth of data.
//
// A StreamSource must not be sliced concurrently.
type StreamSource struct {
	producer  Producer
	chunkSize int64

	buffer       []byte
	bufferOffset int64
	done         bool

	closeOnce sync.Once
	closeErr  error
}

// NewStreamSource creates a stream source. chunkSize must be positive; an
// unbounded chunk size would make the buffer unbounded as well.
func NewStreamSource(p Producer, chunkSize int64) (*StreamSource, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &StreamSource{
		producer:  p,
		chunkSize: chunkSize,
	}, nil
}

// Size is only known once the producer is exhausted.
func (s *StreamSource) Size() (int64, bool) {
	if !s.done {
		return 0, false
	}
	return s.bufferOffset + int64(len(s.buffer)), true
}

// Buffered returns the number of bytes currently held.
func (s *StreamSource) Buffered() int {
	return len(s.buffer)
}

// Slice ...
func (s *StreamSource) Slice(ctx context.Context, start, end int64) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	if start < s.bufferOffset {
		return nil, ErrOutOfOrderAccess
	}

	for !s.done && end > s.bufferOffset+int64(len(s.buffer)) {
		value, done, err := s.producer.Read(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			s.done = true
			break
		}

		fragment, err := fragmentBytes(value)
		if err != nil {
			return nil, err
		}
		s.buffer = append(s.buffer, fragment...)
	}

	return s.fromBuffer(start, end)
}

func (s *StreamSource) fromBuffer(start, end int64) ([]byte, error) {
	width := end - start
	bufferEnd := s.bufferOffset + int64(len(s.buffer))
	if s.done && start >= bufferEnd {
		return nil, io.EOF
	}
	if end > bufferEnd {
		end = bufferEnd
	}

	result := make([]byte, end-start)
	copy(result, s.buffer[start-s.bufferOffset:end-s.bufferOffset])

	// Bytes at or after start are kept so the same slice can be served again
	// if the request carrying it fails.
	if width > 0 && int64(len(s.buffer)) >= 2*width {
		drop := width
		if start-s.bufferOffset < drop {
			drop = start - s.bufferOffset
		}
		n := copy(s.buffer, s.buffer[drop:])
		s.buffer = s.buffer[:n]
		s.bufferOffset += drop
	}

	return result, nil
}

// Close drops the buffer and closes the producer if it is an io.Closer.
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() {
		s.buffer = nil
		if c, ok := s.producer.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}
