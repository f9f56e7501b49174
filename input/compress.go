package input

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compressed returns a reader yielding the zstd compressed content of r.
// Closing it stops the compression and closes r.
func compressed(r io.ReadCloser) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	zstdWriter, err := zstd.NewWriter(pw)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	go func() {
		_, err := io.Copy(zstdWriter, r)
		if closeErr := zstdWriter.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err) //nolint:errcheck
	}()

	return &compressedReader{PipeReader: pr, source: r}, nil
}

type compressedReader struct {
	*io.PipeReader
	source io.Closer
}

func (r *compressedReader) Close() error {
	r.PipeReader.Close() //nolint:errcheck
	return r.source.Close()
}
