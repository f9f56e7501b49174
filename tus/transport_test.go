package tus

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedTransport(t *testing.T) *HTTPTransport {
	transport, err := NewHTTPTransport(log.NewLogger(), false)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(transport.client.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return transport
}

func TestHTTPTransport_Send(t *testing.T) {
	transport := newMockedTransport(t)

	var gotHeader http.Header
	var gotBody []byte
	httpmock.RegisterResponder(http.MethodPatch, "https://tus.io/files/abc",
		func(req *http.Request) (*http.Response, error) {
			gotHeader = req.Header
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			gotBody = body

			resp := httpmock.NewStringResponse(http.StatusNoContent, "")
			resp.Header.Set("Upload-Offset", "5")
			return resp, nil
		})

	header := http.Header{}
	header.Set("Upload-Offset", "0")
	header.Set("Content-Type", "application/offset+octet-stream")

	resp, err := transport.Send(context.Background(), &Request{
		Method: http.MethodPatch,
		URL:    "https://tus.io/files/abc",
		Header: header,
		Body:   []byte("hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Upload-Offset"))
	assert.Equal(t, "0", gotHeader.Get("Upload-Offset"))
	assert.Equal(t, []byte("hello"), gotBody)
}

func TestHTTPTransport_DoesNotRetry(t *testing.T) {
	transport := newMockedTransport(t)

	httpmock.RegisterResponder(http.MethodPost, "https://tus.io/files/",
		httpmock.NewStringResponder(http.StatusInternalServerError, "try again later"))

	resp, err := transport.Send(context.Background(), &Request{Method: http.MethodPost, URL: "https://tus.io/files/", Header: http.Header{}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "try again later", resp.Body)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPTransport_NetworkFailure(t *testing.T) {
	transport := newMockedTransport(t)

	httpmock.RegisterResponder(http.MethodHead, "https://tus.io/files/abc",
		httpmock.NewErrorResponder(io.ErrUnexpectedEOF))

	_, err := transport.Send(context.Background(), &Request{Method: http.MethodHead, URL: "https://tus.io/files/abc", Header: http.Header{}})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNewHTTPTransport_WithCredentials(t *testing.T) {
	transport, err := NewHTTPTransport(log.NewLogger(), true)
	require.NoError(t, err)
	assert.NotNil(t, transport.client.HTTPClient.Jar)
	assert.Equal(t, 0, transport.client.RetryMax)
}

func TestHTTPTransport_SetSecretHeaders(t *testing.T) {
	transport := newMockedTransport(t)
	transport.SetSecretHeaders([]string{"X-Api-Key"})

	var gotKey string
	httpmock.RegisterResponder(http.MethodHead, "https://tus.io/files/abc",
		func(req *http.Request) (*http.Response, error) {
			gotKey = req.Header.Get("X-Api-Key")
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	header := http.Header{}
	header.Set("X-Api-Key", "key")
	_, err := transport.Send(context.Background(), &Request{Method: http.MethodHead, URL: "https://tus.io/files/abc", Header: header})
	require.NoError(t, err)

	assert.Equal(t, "key", gotKey)
}
