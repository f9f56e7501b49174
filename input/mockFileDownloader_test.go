package input

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"
)

// MockFileDownloader ...
type MockFileDownloader struct {
	mock.Mock
}

// Download ...
func (m *MockFileDownloader) Download(ctx context.Context, destination, source string) error {
	args := m.Called(destination, source)
	return args.Error(0)
}

// GivenDownloadFails ...
func (m *MockFileDownloader) GivenDownloadFails(reason error) *MockFileDownloader {
	m.On("Download", mock.Anything, mock.Anything).Return(reason)
	return m
}

// GivenDownloadSucceeds writes content to the destination.
func (m *MockFileDownloader) GivenDownloadSucceeds(content []byte) *MockFileDownloader {
	m.On("Download", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if err := os.WriteFile(args.String(0), content, 0o600); err != nil {
				panic(err)
			}
		}).
		Return(nil)
	return m
}
