package input

import (
	"context"
	"net/http"

	"github.com/melbahja/got"
)

// FileDownloader ..
type FileDownloader interface {
	Download(ctx context.Context, destination, source string) error
}

type gotDownloader struct {
	client *http.Client
}

// NewFileDownloader downloads files in parallel chunks with client.
func NewFileDownloader(client *http.Client) FileDownloader {
	return gotDownloader{client: client}
}

// Download ...
func (d gotDownloader) Download(ctx context.Context, destination, source string) error {
	downloader := got.New()
	downloader.Client = d.client

	return downloader.Do(got.NewDownload(ctx, source, destination))
}
