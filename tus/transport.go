package tus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httputil"

	"github.com/bitrise-io/go-tusclient/secretkeys"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// maxBodyLength caps how much of a response body is kept for error reports.
const maxBodyLength = 64 * 1024

// Request is a single protocol request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the part of a response the engine interprets.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Transport sends protocol requests. An error means no response was received.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport sends requests with a retryablehttp client. Retrying is left
// to the upload engine, which reconciles the offset before sending data again.
type HTTPTransport struct {
	client        *retryablehttp.Client
	secretHeaders []string
	logger        log.Logger
}

// NewHTTPTransport creates a transport. withCredentials attaches a cookie jar
// so cookies set by the server are sent along with later requests.
func NewHTTPTransport(logger log.Logger, withCredentials bool) (*HTTPTransport, error) {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if withCredentials {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client.HTTPClient.Jar = jar
	}

	return NewHTTPTransportWithClient(client, logger), nil
}

// NewHTTPTransportWithClient wraps an existing client.
func NewHTTPTransportWithClient(client *retryablehttp.Client, logger log.Logger) *HTTPTransport {
	return &HTTPTransport{
		client:        client,
		secretHeaders: secretkeys.DefaultKeys,
		logger:        logger,
	}
}

// SetSecretHeaders sets the headers masked in the request and response dumps.
func (t *HTTPTransport) SetSecretHeaders(keys []string) {
	t.secretHeaders = keys
}

// Send ...
func (t *HTTPTransport) Send(ctx context.Context, r *Request) (*Response, error) {
	var body interface{}
	if r.Body != nil {
		body = r.Body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.ContentLength = int64(len(r.Body))

	dumpReq := req.Request.Clone(ctx)
	dumpReq.Header = secretkeys.Redact(req.Header, t.secretHeaders)
	dump, err := httputil.DumpRequest(dumpReq, false)
	if err != nil {
		t.logger.Warnf("error while dumping request: %s", err)
	}
	t.logger.Debugf("Request dump: %s", string(dump))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			t.logger.Printf(err.Error())
		}
	}(resp.Body)

	dumpResp := *resp
	dumpResp.Header = secretkeys.Redact(resp.Header, t.secretHeaders)
	dump, err = httputil.DumpResponse(&dumpResp, false)
	if err != nil {
		t.logger.Warnf("error while dumping response: %s", err)
	}
	t.logger.Debugf("Response dump: %s", string(dump))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLength))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(respBody),
	}, nil
}
