// Package tus implements a client for the tus resumable upload protocol.
package tus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bitrise-io/go-tusclient/secretkeys"
	"github.com/bitrise-io/go-tusclient/source"
	"github.com/bitrise-io/go-tusclient/urlstore"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ProtocolVersion is the tus protocol version sent in the Tus-Resumable header.
const ProtocolVersion = "1.0.0"

const (
	headerTusResumable      = "Tus-Resumable"
	headerUploadOffset      = "Upload-Offset"
	headerUploadLength      = "Upload-Length"
	headerUploadDeferLength = "Upload-Defer-Length"
	headerUploadMetadata    = "Upload-Metadata"
	headerMethodOverride    = "X-HTTP-Method-Override"
	headerContentType       = "Content-Type"
	headerLocation          = "Location"

	contentTypeOffsetOctetStream = "application/offset+octet-stream"
)

// Upload transfers one input to a tus server. An Upload runs at most one
// request at a time; create one Upload per transfer.
type Upload struct {
	config      Config
	src         source.Source
	transport   Transport
	store       urlstore.Store
	logger      log.Logger
	retry       RetryScheduler
	stats       *Stats
	fingerprint string

	// Only touched by the run loop.
	attempt        int
	retryDelay     time.Duration
	retryEvent     event
	needsReconcile bool
	lengthSent     bool

	mu             sync.Mutex
	state          State
	url            string
	offset         int64
	length         int64
	started        bool
	pauseRequested bool
	resumeCh       chan struct{}
	cancel         context.CancelFunc
	done           chan struct{}
	err            error
}

// NewUpload resolves input into a Source and prepares an upload. Resolution
// failures are reported through OnError as well as returned.
func NewUpload(ctx context.Context, input interface{}, config Config) (*Upload, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	transport := config.Transport
	if transport == nil {
		httpTransport, err := NewHTTPTransport(logger, config.WithCredentials)
		if err != nil {
			return nil, configError("create transport: %w", err)
		}
		if len(config.SecretHeaders) > 0 {
			httpTransport.SetSecretHeaders(append(append([]string(nil), secretkeys.DefaultKeys...), config.SecretHeaders...))
		}
		transport = httpTransport
	}

	adapter := config.InputAdapter
	if adapter == nil {
		adapter = DefaultInputAdapter
	}

	src, err := adapter.Resolve(ctx, input, config.ChunkSize)
	if err != nil {
		resolveErr := sourceError("cannot resolve upload input", err)
		if config.OnError != nil {
			config.OnError(resolveErr)
		}
		return nil, resolveErr
	}

	size, known := src.Size()
	if !known {
		var cfgErr error
		if !config.UploadLengthDeferred {
			cfgErr = configError("the size of the input is unknown, UploadLengthDeferred must be enabled")
		} else if config.ChunkSize == 0 {
			cfgErr = configError("the size of the input is unknown, a chunk size is required")
		}
		if cfgErr != nil {
			src.Close() //nolint:errcheck
			return nil, cfgErr
		}
	}

	length := LengthUnknown
	if known && !config.UploadLengthDeferred {
		length = size
	}

	var fingerprint string
	if config.Fingerprint != nil {
		fingerprint, err = config.Fingerprint(input, config)
		if err != nil {
			logger.Warnf("Failed to compute fingerprint, upload can't be resumed later: %s", err)
			fingerprint = ""
		}
	}

	return &Upload{
		config:      config,
		src:         src,
		transport:   transport,
		store:       config.Store,
		logger:      logger,
		retry:       RetryScheduler{Delays: config.RetryDelays},
		stats:       NewStats(),
		fingerprint: fingerprint,
		state:       StateIdle,
		length:      length,
		resumeCh:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start runs the upload in the background. Cancelling ctx aborts the upload.
func (u *Upload) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		return ErrAlreadyStarted
	}
	u.started = true

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	go u.run(runCtx)

	return nil
}

// Wait blocks until the upload finished and returns its error. It returns
// ErrAborted for aborted uploads.
func (u *Upload) Wait() error {
	<-u.done

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Run starts the upload and waits for it to finish.
func (u *Upload) Run(ctx context.Context) error {
	if err := u.Start(ctx); err != nil {
		return err
	}
	return u.Wait()
}

// Pause stops the upload before the next chunk. A chunk in flight is
// completed first.
func (u *Upload) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.state.Terminal() {
		u.pauseRequested = true
	}
}

// Resume continues a paused upload, or withdraws a pause that was not honored yet.
func (u *Upload) Resume() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case u.state == StatePaused:
		u.pauseRequested = false
		select {
		case u.resumeCh <- struct{}{}:
		default:
		}
		return nil
	case u.pauseRequested:
		u.pauseRequested = false
		return nil
	default:
		return ErrNotPaused
	}
}

// Abort stops the upload. The outcome of a request in flight is discarded
// and no callbacks are invoked.
func (u *Upload) Abort() {
	u.mu.Lock()
	if !u.started {
		u.started = true
		u.state = StateAborted
		u.err = ErrAborted
		close(u.done)
		u.mu.Unlock()
		u.closeSource()
		return
	}
	cancel := u.cancel
	u.mu.Unlock()

	cancel()
}

// State ...
func (u *Upload) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// URL returns the upload url, empty until the upload was created or resumed.
func (u *Upload) URL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.url
}

// Offset returns the number of bytes acknowledged by the server.
func (u *Upload) Offset() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.offset
}

// Length returns the total length, or LengthUnknown while it is deferred.
func (u *Upload) Length() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.length
}

// Fingerprint ...
func (u *Upload) Fingerprint() string {
	return u.fingerprint
}

// Stats ...
func (u *Upload) Stats() *Stats {
	return u.stats
}

func (u *Upload) run(ctx context.Context) {
	defer close(u.done)

	for {
		state := u.State()
		if state.Terminal() {
			break
		}
		if ctx.Err() != nil {
			u.handleFailure(ctx, ctx.Err(), evTimerFired)
			continue
		}

		var err error
		retryEvent := evTimerFired
		switch state {
		case StateIdle:
			u.begin(ctx)
			continue
		case StateResuming:
			err = u.resume(ctx)
			retryEvent = evResume
		case StateCreating:
			err = u.create(ctx)
			retryEvent = evCreate
		case StateUploading:
			if u.takePause() {
				u.fire(evPause)
				continue
			}
			if u.needsReconcile {
				err = u.reconcile(ctx)
			} else {
				err = u.uploadChunk(ctx)
			}
		case StateRetrying:
			err = u.waitRetry(ctx)
		case StatePaused:
			err = u.waitResume(ctx)
		}

		if err != nil {
			u.handleFailure(ctx, err, retryEvent)
		}
	}

	u.finish(ctx)
}

func (u *Upload) fire(ev event) {
	u.mu.Lock()
	from := u.state
	to, err := transition(from, ev)
	if err != nil {
		u.state = StateFailed
		u.err = err
		u.mu.Unlock()
		u.logger.Errorf("%s", err)
		return
	}
	u.state = to
	u.mu.Unlock()

	u.logger.Debugf("Upload state %s -> %s (%s)", from, to, ev)
}

func (u *Upload) fail(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
	u.fire(evFatal)
}

func (u *Upload) handleFailure(ctx context.Context, err error, retryEvent event) {
	if ctx.Err() != nil {
		u.mu.Lock()
		u.err = ErrAborted
		u.mu.Unlock()
		u.fire(evCancelled)
		return
	}

	delay, ok := u.retry.Next(u.attempt, err)
	if !ok {
		u.fail(err)
		return
	}

	u.attempt++
	u.retryDelay = delay
	u.retryEvent = retryEvent
	u.stats.Retried()
	u.logger.Warnf("%s", err)
	u.logger.Warnf("Retrying in %s (attempt %d/%d)", delay, u.attempt, len(u.retry.Delays))
	u.fire(evRequestFailed)
}

func (u *Upload) begin(ctx context.Context) {
	if u.config.UploadURL != "" {
		u.setURL(u.config.UploadURL)
		u.fire(evResume)
		return
	}

	if u.config.Resume && u.store != nil && u.fingerprint != "" {
		storedURL, ok, err := u.store.Get(ctx, u.fingerprint)
		if err != nil {
			u.logger.Warnf("Failed to look up previous upload: %s", err)
		}
		if ok && storedURL != "" {
			u.logger.Infof("Resuming previous upload at %s", storedURL)
			u.setURL(storedURL)
			u.fire(evResume)
			return
		}
	}

	u.fire(evCreate)
}

// resume reconciles a stored or configured upload url. A client error means
// the url is gone: a new upload is created instead, or the upload fails when
// there is no endpoint to create it at.
func (u *Upload) resume(ctx context.Context) error {
	err := u.head(ctx, "resuming upload")
	var tusErr *Error
	if errors.As(err, &tusErr) && tusErr.Kind == KindClientError {
		u.evict(ctx)
		if u.config.Endpoint == "" {
			resumeErr := *tusErr
			resumeErr.Op = "unable to resume upload, a new upload cannot be created without an endpoint"
			return &resumeErr
		}

		u.logger.Warnf("Previous upload is not available anymore, creating a new one: %s", err)
		u.setURL("")
		u.fire(evCreate)
		return nil
	}
	if err != nil {
		return err
	}

	u.attempt = 0
	if u.complete() {
		u.fire(evSourceExhausted)
		return nil
	}
	u.fire(evRequestSucceeded)
	return nil
}

// reconcile asks the server for the offset after a failed chunk transfer, as
// the server may have stored part of it.
func (u *Upload) reconcile(ctx context.Context) error {
	if err := u.head(ctx, "reconciling upload offset"); err != nil {
		if KindOf(err) == KindClientError {
			u.evict(ctx)
		}
		return err
	}

	u.needsReconcile = false
	if u.complete() {
		u.fire(evSourceExhausted)
	}
	return nil
}

func (u *Upload) head(ctx context.Context, op string) error {
	req := &Request{
		Method: http.MethodHead,
		URL:    u.URL(),
		Header: u.config.header(),
	}

	resp, err := u.send(ctx, op, req)
	if err != nil {
		return err
	}

	offset, err := parseOffset(resp.Header)
	if err != nil {
		return protocolError(op, req, resp, err)
	}

	length := LengthUnknown
	lengthSent := false
	if raw := resp.Header.Get(headerUploadLength); raw != "" {
		length, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || length < 0 {
			return protocolError(op, req, resp, fmt.Errorf("invalid length value %q", raw))
		}
		lengthSent = true
	} else if resp.Header.Get(headerUploadDeferLength) != "1" && !u.config.UploadLengthDeferred {
		return protocolError(op, req, resp, errors.New("invalid or missing length value"))
	}
	if length != LengthUnknown && offset > length {
		return protocolError(op, req, resp, fmt.Errorf("offset %d is beyond length %d", offset, length))
	}

	u.mu.Lock()
	u.offset = offset
	if lengthSent {
		u.length = length
	}
	u.mu.Unlock()
	u.lengthSent = lengthSent

	u.logger.Debugf("Server reports offset %d of %s", offset, formatLength(length))
	return nil
}

func (u *Upload) create(ctx context.Context) error {
	const op = "creating upload"

	header := u.config.header()
	length := u.Length()
	if length != LengthUnknown {
		header.Set(headerUploadLength, strconv.FormatInt(length, 10))
	} else {
		header.Set(headerUploadDeferLength, "1")
	}
	if len(u.config.Metadata) > 0 {
		metadata, err := EncodeMetadata(u.config.Metadata)
		if err != nil {
			return configError("%w", err)
		}
		header.Set(headerUploadMetadata, metadata)
	}

	req := &Request{
		Method: http.MethodPost,
		URL:    u.config.Endpoint,
		Header: header,
	}

	resp, err := u.send(ctx, op, req)
	if err != nil {
		return err
	}

	location := resp.Header.Get(headerLocation)
	if location == "" {
		return protocolError(op, req, resp, errors.New("invalid or missing Location header"))
	}
	uploadURL, err := resolveURL(u.config.Endpoint, location)
	if err != nil {
		return protocolError(op, req, resp, err)
	}

	u.mu.Lock()
	u.url = uploadURL
	u.offset = 0
	u.mu.Unlock()
	u.lengthSent = length != LengthUnknown
	u.attempt = 0

	u.logger.Infof("Created upload at %s", uploadURL)

	if u.store != nil && u.fingerprint != "" {
		if err := u.store.Set(ctx, u.fingerprint, uploadURL); err != nil {
			u.logger.Warnf("Failed to store upload url, upload can't be resumed later: %s", err)
		}
	}

	if u.complete() {
		u.fire(evSourceExhausted)
		return nil
	}
	u.fire(evRequestSucceeded)
	return nil
}

func (u *Upload) uploadChunk(ctx context.Context) error {
	const op = "uploading chunk"

	offset := u.Offset()
	length := u.Length()

	end := offset + u.config.ChunkSize
	if u.config.ChunkSize == 0 {
		size, _ := u.src.Size()
		end = size
	}
	if length != LengthUnknown && end > length {
		end = length
	}

	data, err := u.src.Slice(ctx, offset, end)
	if errors.Is(err, io.EOF) {
		data = nil
		err = nil
		if length == LengthUnknown {
			length = offset
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sourceError("reading upload input", err)
	}

	// The length is only sent along with the request reaching the end of the input.
	if length == LengthUnknown {
		if size, known := u.src.Size(); known && offset+int64(len(data)) >= size {
			length = size
		}
	}
	if length != LengthUnknown {
		u.mu.Lock()
		u.length = length
		u.mu.Unlock()
	}

	header := u.config.header()
	header.Set(headerUploadOffset, strconv.FormatInt(offset, 10))
	header.Set(headerContentType, contentTypeOffsetOctetStream)
	includesLength := length != LengthUnknown && !u.lengthSent
	if includesLength {
		header.Set(headerUploadLength, strconv.FormatInt(length, 10))
	}

	method := http.MethodPatch
	if u.config.OverridePatchMethod {
		method = http.MethodPost
		header.Set(headerMethodOverride, http.MethodPatch)
	}

	req := &Request{
		Method: method,
		URL:    u.URL(),
		Header: header,
		Body:   data,
	}

	u.logger.Debugf("Uploading %s at offset %d", units.HumanSize(float64(len(data))), offset)
	start := time.Now()

	resp, err := u.send(ctx, op, req)
	if err != nil {
		u.needsReconcile = true
		return err
	}

	newOffset, err := parseOffset(resp.Header)
	if err != nil {
		return protocolError(op, req, resp, err)
	}
	if newOffset < offset {
		return protocolError(op, req, resp, fmt.Errorf("offset went backwards from %d to %d", offset, newOffset))
	}
	if newOffset == offset && len(data) > 0 {
		return protocolError(op, req, resp, errors.New("server did not accept any data"))
	}
	if length != LengthUnknown && newOffset > length {
		return protocolError(op, req, resp, fmt.Errorf("offset %d is beyond length %d", newOffset, length))
	}

	took := time.Since(start)
	u.stats.Update(took, newOffset-offset)
	u.logger.Debugf("Chunk acknowledged in %s [finished=%d] [avg=%s]", took.Round(time.Millisecond), u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	u.mu.Lock()
	u.offset = newOffset
	u.mu.Unlock()
	if includesLength {
		u.lengthSent = true
	}
	u.attempt = 0

	if u.config.OnChunkComplete != nil {
		u.config.OnChunkComplete(newOffset-offset, newOffset, length)
	}
	if u.config.OnProgress != nil {
		u.config.OnProgress(newOffset, length)
	}

	if u.complete() {
		u.fire(evSourceExhausted)
	}
	return nil
}

func (u *Upload) waitRetry(ctx context.Context) error {
	timer := time.NewTimer(u.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if u.retryEvent == evTimerFired {
		u.needsReconcile = true
	}
	u.fire(u.retryEvent)
	return nil
}

func (u *Upload) waitResume(ctx context.Context) error {
	u.logger.Infof("Upload paused at offset %d", u.Offset())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.resumeCh:
	}

	u.logger.Infof("Upload resumed")
	u.fire(evContinue)
	return nil
}

func (u *Upload) takePause() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.pauseRequested {
		return false
	}
	u.pauseRequested = false
	return true
}

func (u *Upload) finish(ctx context.Context) {
	u.closeSource()

	state := u.State()
	switch state {
	case StateDone:
		if u.config.RemoveFingerprintOnSuccess && u.store != nil && u.fingerprint != "" {
			if err := u.store.Delete(ctx, u.fingerprint); err != nil {
				u.logger.Warnf("Failed to remove stored upload url: %s", err)
			}
		}
		u.logger.Donef("Upload finished: %s uploaded to %s", units.HumanSize(float64(u.Offset())), u.URL())
		if u.config.OnSuccess != nil {
			u.config.OnSuccess()
		}
	case StateFailed:
		u.mu.Lock()
		err := u.err
		u.mu.Unlock()
		u.logger.Errorf("Upload failed: %s", err)
		if u.config.OnError != nil {
			u.config.OnError(err)
		}
	case StateAborted:
		u.logger.Warnf("Upload aborted at offset %d", u.Offset())
	}
}

func (u *Upload) closeSource() {
	if err := u.src.Close(); err != nil {
		u.logger.Warnf("Failed to close upload input: %s", err)
	}
}

func (u *Upload) evict(ctx context.Context) {
	if u.store == nil || u.fingerprint == "" {
		return
	}
	if err := u.store.Delete(ctx, u.fingerprint); err != nil {
		u.logger.Warnf("Failed to remove stale upload url: %s", err)
	}
}

// complete reports whether the server acknowledged the whole, known length.
func (u *Upload) complete() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.length != LengthUnknown && u.lengthSent && u.offset == u.length
}

func (u *Upload) setURL(uploadURL string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.url = uploadURL
}

// send issues req and classifies the failures: no response and 5xx are
// retryable, 4xx and anything else outside 2xx are not.
func (u *Upload) send(ctx context.Context, op string, req *Request) (*Response, error) {
	reqCtx := ctx
	if u.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, u.config.RequestTimeout)
		defer cancel()
	}

	resp, err := u.transport.Send(reqCtx, req)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, &Error{
			Kind:   KindNetworkFailure,
			Op:     "failed " + op,
			Method: req.Method,
			URL:    req.URL,
			Err:    err,
		}
	}

	var kind Kind
	switch {
	case resp.StatusCode >= 500:
		kind = KindServerError
	case resp.StatusCode >= 400:
		kind = KindClientError
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		kind = KindProtocolViolation
	default:
		return resp, nil
	}

	return resp, &Error{
		Kind:       kind,
		Op:         "unexpected response while " + op,
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
}

func protocolError(op string, req *Request, resp *Response, err error) error {
	return &Error{
		Kind:       KindProtocolViolation,
		Op:         "unexpected response while " + op,
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Err:        err,
	}
}

func parseOffset(header http.Header) (int64, error) {
	raw := header.Get(headerUploadOffset)
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid or missing offset value %q", raw)
	}
	return offset, nil
}

func resolveURL(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	locationURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	return baseURL.ResolveReference(locationURL).String(), nil
}

func formatLength(length int64) string {
	if length == LengthUnknown {
		return "deferred length"
	}
	return strconv.FormatInt(length, 10)
}
