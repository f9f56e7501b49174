package source

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const defaultFragmentSize = 32 * 1024

// Producer yields successive fragments of a stream. done is true once there is
// no more data; the value returned alongside done is ignored.
type Producer interface {
	Read(ctx context.Context) (value interface{}, done bool, err error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context) (interface{}, bool, error)

// Read ...
func (f ProducerFunc) Read(ctx context.Context) (interface{}, bool, error) {
	return f(ctx)
}

type readerProducer struct {
	r            io.Reader
	fragmentSize int
}

// ReaderProducer pulls fragments of at most fragmentSize bytes from r.
func ReaderProducer(r io.Reader, fragmentSize int) Producer {
	if fragmentSize <= 0 {
		fragmentSize = defaultFragmentSize
	}
	return &readerProducer{r: r, fragmentSize: fragmentSize}
}

func (p *readerProducer) Read(ctx context.Context) (interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	buf := make([]byte, p.fragmentSize)
	n, err := p.r.Read(buf)
	if n > 0 {
		// Data first, io.EOF is reported again by the next Read.
		return buf[:n], false, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fragment: %w", err)
	}
	return []byte{}, false, nil
}

type chanProducer struct {
	ch <-chan []byte
}

// ChanProducer turns a channel into a Producer. Closing the channel ends the stream.
func ChanProducer(ch <-chan []byte) Producer {
	return chanProducer{ch: ch}
}

func (p chanProducer) Read(ctx context.Context) (interface{}, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case b, ok := <-p.ch:
		if !ok {
			return nil, true, nil
		}
		return b, false, nil
	}
}

type blob interface {
	Bytes() []byte
}

// fragmentBytes converts the supported fragment representations into a byte slice.
func fragmentBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case blob:
		return v.Bytes(), nil
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFragmentType, value)
	}
}
