package tus

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/bitrise-io/go-tusclient/source"
	"github.com/bitrise-io/go-tusclient/urlstore"
	"github.com/bitrise-io/go-utils/v2/log"
)

// LengthUnknown is reported as length while the upload length is deferred.
const LengthUnknown int64 = -1

// InputAdapter turns an upload input into a Source.
type InputAdapter interface {
	Resolve(ctx context.Context, input interface{}, chunkSize int64) (source.Source, error)
}

// InputAdapterFunc adapts a function to the InputAdapter interface.
type InputAdapterFunc func(ctx context.Context, input interface{}, chunkSize int64) (source.Source, error)

// Resolve ...
func (f InputAdapterFunc) Resolve(ctx context.Context, input interface{}, chunkSize int64) (source.Source, error) {
	return f(ctx, input, chunkSize)
}

// DefaultInputAdapter resolves in-process values: byte slices, readers, files and producers.
var DefaultInputAdapter InputAdapter = InputAdapterFunc(func(_ context.Context, input interface{}, chunkSize int64) (source.Source, error) {
	return source.Resolve(input, chunkSize)
})

// Config holds the options of an upload.
type Config struct {
	// Endpoint is where new uploads are created.
	Endpoint string
	// UploadURL resumes this upload directly instead of looking up the store.
	UploadURL string
	// Headers are added to every request.
	Headers map[string]string
	// SecretHeaders are masked in debug logs, in addition to the credential
	// headers. Only used when Transport is not set.
	SecretHeaders []string
	// Metadata is sent in the Upload-Metadata header on creation.
	Metadata map[string]string

	// ChunkSize is the maximum number of bytes per request. Zero sends the
	// remaining data in one request, which is only possible for finite inputs.
	ChunkSize int64
	// RetryDelays are the waits before each retry. No retries when empty.
	RetryDelays []time.Duration
	// RequestTimeout limits a single request. A timeout counts as a network failure.
	RequestTimeout time.Duration

	// Resume enables looking up previous upload urls by fingerprint.
	Resume bool
	// RemoveFingerprintOnSuccess deletes the stored url once the upload is done.
	RemoveFingerprintOnSuccess bool
	// UploadLengthDeferred creates the upload without a length.
	UploadLengthDeferred bool
	// OverridePatchMethod sends chunks as POST with an X-HTTP-Method-Override header.
	OverridePatchMethod bool
	// WithCredentials keeps server set cookies for later requests. Only used
	// when Transport is not set.
	WithCredentials bool

	// Fingerprint derives the store key of an input. An empty key disables the store.
	Fingerprint func(input interface{}, config Config) (string, error)

	OnProgress      func(offset, length int64)
	OnChunkComplete func(chunkSize, offset, length int64)
	OnSuccess       func()
	OnError         func(err error)

	Store        urlstore.Store
	Transport    Transport
	InputAdapter InputAdapter
	Logger       log.Logger
}

// DefaultConfig returns the default configuration for the given endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		RetryDelays: append([]time.Duration(nil), DefaultRetryDelays...),
		Resume:      true,
		Fingerprint: DefaultFingerprint,
	}
}

// Validate checks the options that do not depend on the input.
func (c Config) Validate() error {
	if c.Endpoint == "" && c.UploadURL == "" {
		return configError("either an endpoint or an upload url is required")
	}
	for _, raw := range []string{c.Endpoint, c.UploadURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return configError("parse url %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return configError("url %q must use http or https", raw)
		}
	}
	if c.ChunkSize < 0 {
		return configError("chunk size must not be negative, got %d", c.ChunkSize)
	}
	if c.RequestTimeout < 0 {
		return configError("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	for i, d := range c.RetryDelays {
		if d < 0 {
			return configError("retry delay #%d must not be negative, got %s", i, d)
		}
	}
	for k := range c.Headers {
		if k == "" {
			return configError("header names must not be empty")
		}
	}
	if _, err := EncodeMetadata(c.Metadata); err != nil {
		return configError("%w", err)
	}
	return nil
}

func (c Config) header() http.Header {
	h := http.Header{}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	h.Set(headerTusResumable, ProtocolVersion)
	return h
}
