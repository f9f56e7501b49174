// Package source exposes upload inputs through one sliceable interface.
// A Source is either finite (size known up front) or a stream whose size is
// only known once its producer is exhausted.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrOutOfOrderAccess is returned when a stream is asked for data before its buffered window.
	ErrOutOfOrderAccess = errors.New("requested data is before the stream's current offset")
	// ErrUnsupportedFragmentType is returned when a producer yields a value that can not be concatenated.
	ErrUnsupportedFragmentType = errors.New("unsupported fragment type")
	// ErrInvalidChunkSize is returned when a stream source is created without a positive chunk size.
	ErrInvalidChunkSize = errors.New("cannot create source for stream without a finite, positive chunk size")
	// ErrUnsupportedInput is returned by Resolve for inputs it can not read from.
	ErrUnsupportedInput = errors.New("unsupported upload input")
)

// Source provides the data of an upload.
type Source interface {
	// Size returns the total size and whether it is known yet.
	Size() (int64, bool)

	// Slice returns the bytes in [start, end). Fewer bytes are returned when the
	// source ends before end. io.EOF means there is no data at or after start.
	Slice(ctx context.Context, start, end int64) ([]byte, error)

	// Close releases the underlying resources. It is safe to call more than once.
	Close() error
}

type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// Resolve picks the Source implementation matching the input's capabilities.
// chunkSize is only used by stream inputs.
func Resolve(input interface{}, chunkSize int64) (Source, error) {
	switch in := input.(type) {
	case nil:
		return nil, fmt.Errorf("%w: <nil>", ErrUnsupportedInput)
	case Source:
		return in, nil
	case []byte:
		return NewBytesSource(in), nil
	case *os.File:
		info, err := in.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", in.Name(), err)
		}
		if info.Mode().IsRegular() {
			return NewFileSource(in, info.Size()), nil
		}
		return NewStreamSource(ReaderProducer(in, int(chunkSize)), chunkSize)
	case sizedReaderAt:
		return NewFileSource(in, in.Size()), nil
	case *bytes.Buffer:
		return NewBytesSource(in.Bytes()), nil
	case Producer:
		return NewStreamSource(in, chunkSize)
	case io.Reader:
		return NewStreamSource(ReaderProducer(in, int(chunkSize)), chunkSize)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedInput, input)
	}
}
