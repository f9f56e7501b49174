package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-tusclient/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var content = []byte("hello world")

func readAll(t *testing.T, src source.Source) []byte {
	var data []byte
	var offset int64
	for {
		chunk, err := src.Slice(context.Background(), offset, offset+4)
		if errors.Is(err, io.EOF) {
			return data
		}
		require.NoError(t, err)
		data = append(data, chunk...)
		offset += int64(len(chunk))
	}
}

func givenFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestAdapter_LocalFile(t *testing.T) {
	path := givenFile(t)
	adapter := NewAdapter(Options{}, log.NewLogger())

	for _, name := range []string{path, "file://" + path} {
		src, err := adapter.Resolve(context.Background(), name, 4)
		require.NoError(t, err)

		size, known := src.Size()
		assert.True(t, known)
		assert.Equal(t, int64(len(content)), size)
		assert.Equal(t, content, readAll(t, src))
		assert.NoError(t, src.Close())
	}
}

func TestAdapter_MissingFile(t *testing.T) {
	adapter := NewAdapter(Options{}, log.NewLogger())

	_, err := adapter.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing"), 4)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAdapter_Stdin(t *testing.T) {
	adapter := NewAdapter(Options{}, log.NewLogger())
	adapter.stdin = bytes.NewBufferString("hello world")

	src, err := adapter.Resolve(context.Background(), "-", 4)
	require.NoError(t, err)
	defer src.Close()

	_, known := src.Size()
	assert.False(t, known)
	assert.Equal(t, content, readAll(t, src))

	size, known := src.Size()
	assert.True(t, known)
	assert.Equal(t, int64(len(content)), size)
}

func TestAdapter_Compress(t *testing.T) {
	adapter := NewAdapter(Options{Compress: true}, log.NewLogger())

	src, err := adapter.Resolve(context.Background(), givenFile(t), 4)
	require.NoError(t, err)
	defer src.Close()

	_, known := src.Size()
	assert.False(t, known)

	decoder, err := zstd.NewReader(bytes.NewReader(readAll(t, src)))
	require.NoError(t, err)
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, content, decompressed)
}

func TestAdapter_StreamRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	adapter := NewAdapter(Options{StreamRemote: true}, log.NewLogger())

	src, err := adapter.Resolve(context.Background(), server.URL+"/upload.txt", 4)
	require.NoError(t, err)
	assert.Equal(t, content, readAll(t, src))
	assert.NoError(t, src.Close())

	_, err = adapter.Resolve(context.Background(), server.URL+"/missing.txt", 4)
	assert.Error(t, err)
}

func TestAdapter_DownloadsRemote(t *testing.T) {
	downloader := new(MockFileDownloader).GivenDownloadSucceeds(content)
	adapter := NewAdapter(Options{}, log.NewLogger())
	adapter.downloader = downloader

	src, err := adapter.Resolve(context.Background(), "https://example.com/files/upload.txt?token=1", 4)
	require.NoError(t, err)

	size, known := src.Size()
	assert.True(t, known)
	assert.Equal(t, int64(len(content)), size)
	assert.Equal(t, content, readAll(t, src))

	downloader.AssertCalled(t, "Download", mock.MatchedBy(func(dest string) bool {
		return filepath.Base(dest) == "upload.txt"
	}), "https://example.com/files/upload.txt?token=1")

	dir := filepath.Dir(downloader.Calls[0].Arguments.String(0))
	assert.DirExists(t, dir)

	assert.NoError(t, src.Close())
	assert.NoDirExists(t, dir)
	assert.NoError(t, src.Close())
}

func TestAdapter_DownloadsRemoteCompressed(t *testing.T) {
	downloader := new(MockFileDownloader).GivenDownloadSucceeds(content)
	adapter := NewAdapter(Options{Compress: true}, log.NewLogger())
	adapter.downloader = downloader

	src, err := adapter.Resolve(context.Background(), "https://example.com/upload.txt", 4)
	require.NoError(t, err)
	readAll(t, src)

	assert.NoError(t, src.Close())
	assert.NoDirExists(t, filepath.Dir(downloader.Calls[0].Arguments.String(0)))
}

func TestAdapter_DownloadFails(t *testing.T) {
	downloader := new(MockFileDownloader).GivenDownloadFails(errors.New("connection refused"))
	adapter := NewAdapter(Options{}, log.NewLogger())
	adapter.downloader = downloader

	_, err := adapter.Resolve(context.Background(), "https://example.com/upload.txt", 4)
	assert.EqualError(t, err, "failed to download file from https://example.com/upload.txt: connection refused")
	assert.NoDirExists(t, filepath.Dir(downloader.Calls[0].Arguments.String(0)))
}

func TestAdapter_NonStringInput(t *testing.T) {
	adapter := NewAdapter(Options{}, log.NewLogger())

	src, err := adapter.Resolve(context.Background(), content, 0)
	require.NoError(t, err)

	size, known := src.Size()
	assert.True(t, known)
	assert.Equal(t, int64(len(content)), size)
}

func Test_WhenFileNameFromURLCalled_ThenExpectCorrectValue(t *testing.T) {
	scenarios := []struct {
		input    string
		expected string
	}{
		{
			"https://something.com/best-file-ever.bitrise",
			"best-file-ever.bitrise",
		},
		{
			"https://something.com/otherfile.txt?queryparams",
			"otherfile.txt",
		},
		{
			"https://github.com/bitrise-steplib/awesome-step/archive/0.1.1.zip",
			"0.1.1.zip",
		},
		{
			"https://something.com/",
			"download",
		},
	}

	for _, scenario := range scenarios {
		// When
		actualName, err := fileNameFromURL(scenario.input)

		// Then
		assert.NoError(t, err)
		assert.Equal(t, scenario.expected, actualName)
	}
}
