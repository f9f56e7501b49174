// Package input resolves upload inputs named on the command line: local
// paths, file:// urls, http(s) urls and "-" for the standard input.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-tusclient/source"
	"github.com/bitrise-io/go-tusclient/tus"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	fileScheme = "file://"
	stdinName  = "-"
)

// Options ...
type Options struct {
	// Compress uploads the zstd compressed input. The upload length is then
	// unknown until the input is consumed.
	Compress bool
	// StreamRemote uploads http(s) inputs while reading them instead of
	// downloading them first.
	StreamRemote bool
}

// Adapter implements tus.InputAdapter for string inputs. Other inputs are
// resolved by tus.DefaultInputAdapter.
type Adapter struct {
	opts         Options
	client       *retryablehttp.Client
	downloader   FileDownloader
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	stdin        io.Reader
	logger       log.Logger
}

// NewAdapter ...
func NewAdapter(opts Options, logger log.Logger) *Adapter {
	client := retryhttp.NewClient(logger)

	return &Adapter{
		opts:         opts,
		client:       client,
		downloader:   NewFileDownloader(client.StandardClient()),
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
		stdin:        os.Stdin,
		logger:       logger,
	}
}

// Resolve ...
func (a *Adapter) Resolve(ctx context.Context, input interface{}, chunkSize int64) (source.Source, error) {
	name, ok := input.(string)
	if !ok {
		return tus.DefaultInputAdapter.Resolve(ctx, input, chunkSize)
	}

	r, err := a.open(ctx, name)
	if err != nil {
		return nil, err
	}

	if a.opts.Compress {
		zr, err := compressed(r)
		if err != nil {
			r.Close() //nolint:errcheck
			return nil, err
		}
		a.logger.Debugf("Compressing %s with zstd", name)
		return newStream(zr, chunkSize)
	}

	if f, ok := r.(*tempFile); ok {
		src, err := source.FromFile(f.File)
		if err != nil {
			os.RemoveAll(f.dir) //nolint:errcheck
			return nil, err
		}
		return removingSource{Source: src, dir: f.dir}, nil
	}

	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			f.Close() //nolint:errcheck
			return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
		}
		if info.Mode().IsRegular() {
			return source.FromFile(f)
		}
	}

	return newStream(r, chunkSize)
}

func (a *Adapter) open(ctx context.Context, name string) (io.ReadCloser, error) {
	switch {
	case name == stdinName:
		return io.NopCloser(a.stdin), nil
	case strings.HasPrefix(name, "http://"), strings.HasPrefix(name, "https://"):
		if a.opts.StreamRemote {
			return a.get(ctx, name)
		}
		localPath, tmpDir, err := a.download(ctx, name)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(localPath)
		if err != nil {
			os.RemoveAll(tmpDir) //nolint:errcheck
			return nil, err
		}
		return &tempFile{File: f, dir: tmpDir}, nil
	default:
		localPath, err := a.LocalPath(name)
		if err != nil {
			return nil, err
		}
		return os.Open(localPath)
	}
}

// LocalPath returns the absolute path of a local path or file:// url.
func (a *Adapter) LocalPath(name string) (string, error) {
	return a.pathModifier.AbsPath(strings.TrimPrefix(name, fileScheme))
}

// download fetches a remote input into a new temporary directory, which is
// removed again when the download fails.
func (a *Adapter) download(ctx context.Context, urlPath string) (string, string, error) {
	fileName, err := fileNameFromURL(urlPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract filename from URL %s: %w", urlPath, err)
	}

	tmpDir, err := a.pathProvider.CreateTempDir("tusup")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	localPath := filepath.Join(tmpDir, fileName)
	a.logger.Infof("Downloading %s", urlPath)
	if err := a.downloader.Download(ctx, localPath, urlPath); err != nil {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil {
			a.logger.Warnf("Failed to remove %s: %s", tmpDir, removeErr)
		}
		return "", "", fmt.Errorf("failed to download file from %s: %w", urlPath, err)
	}

	return localPath, tmpDir, nil
}

// tempFile is a downloaded input. Closing it removes its directory.
type tempFile struct {
	*os.File
	dir string
}

func (f *tempFile) Close() error {
	err := f.File.Close()
	if removeErr := os.RemoveAll(f.dir); err == nil {
		err = removeErr
	}
	return err
}

// removingSource removes the directory of a downloaded input once the
// upload is done with it.
type removingSource struct {
	source.Source
	dir string
}

func (s removingSource) Close() error {
	err := s.Source.Close()
	if removeErr := os.RemoveAll(s.dir); err == nil {
		err = removeErr
	}
	return err
}

func (a *Adapter) get(ctx context.Context, urlPath string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", urlPath, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("get %s: %w", urlPath, errors.New(resp.Status))
	}

	return resp.Body, nil
}

// fileNameFromURL returns the file's name from a URL that starts with
// `http://` or `https://`
func fileNameFromURL(urlPath string) (string, error) {
	parsedURL, err := url.Parse(urlPath)
	if err != nil {
		return "", err
	}

	name := filepath.Base(parsedURL.Path)
	if name == "/" || name == "." {
		return "download", nil
	}
	return name, nil
}

type readerProducer struct {
	source.Producer
	io.Closer
}

func newStream(r io.ReadCloser, chunkSize int64) (source.Source, error) {
	stream, err := source.NewStreamSource(readerProducer{
		Producer: source.ReaderProducer(r, int(chunkSize)),
		Closer:   r,
	}, chunkSize)
	if err != nil {
		r.Close() //nolint:errcheck
		return nil, err
	}
	return stream, nil
}
