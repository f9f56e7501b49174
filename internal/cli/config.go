package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-tusclient/stepconf"
	"github.com/bitrise-io/go-tusclient/tus"
	"github.com/docker/go-units"
)

// Store kinds.
const (
	storeNone   = "none"
	storeMemory = "memory"
	storeFile   = "file"
	storeSQLite = "sqlite"
	storeS3     = "s3"
)

// Config is read from the environment first, flags override it.
type Config struct {
	Endpoint       string          `env:"TUS_ENDPOINT"`
	UploadURL      string          `env:"TUS_UPLOAD_URL"`
	Token          stepconf.Secret `env:"TUS_TOKEN"`
	Headers        []string        `env:"TUS_HEADERS"`
	Metadata       []string        `env:"TUS_METADATA"`
	ChunkSize      string          `env:"TUS_CHUNK_SIZE"`
	RetryDelays    []string        `env:"TUS_RETRY_DELAYS"`
	RequestTimeout time.Duration   `env:"TUS_REQUEST_TIMEOUT"`

	Deferred          bool `env:"TUS_DEFER_LENGTH"`
	OverridePatch     bool `env:"TUS_OVERRIDE_PATCH"`
	NoResume          bool `env:"TUS_NO_RESUME"`
	RemoveFingerprint bool `env:"TUS_REMOVE_FINGERPRINT"`
	WithCredentials   bool `env:"TUS_WITH_CREDENTIALS"`
	Compress          bool `env:"TUS_COMPRESS"`
	StreamRemote      bool `env:"TUS_STREAM_REMOTE"`

	Store              string          `env:"TUS_STORE"`
	StorePath          string          `env:"TUS_STORE_PATH"`
	S3Bucket           string          `env:"TUS_S3_BUCKET"`
	S3Region           string          `env:"TUS_S3_REGION"`
	S3Prefix           string          `env:"TUS_S3_PREFIX"`
	AWSAccessKeyID     string          `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey stepconf.Secret `env:"AWS_SECRET_ACCESS_KEY"`

	Verbose bool `env:"TUS_VERBOSE"`
}

func defaultConfig() Config {
	return Config{
		Store:     storeFile,
		StorePath: defaultStorePath(),
	}
}

// uploadConfig converts the command line configuration into the options of an upload.
func (c Config) uploadConfig() (tus.Config, error) {
	config := tus.DefaultConfig(c.Endpoint)
	config.UploadURL = c.UploadURL
	config.RequestTimeout = c.RequestTimeout
	config.UploadLengthDeferred = c.Deferred
	config.OverridePatchMethod = c.OverridePatch
	config.Resume = !c.NoResume
	config.RemoveFingerprintOnSuccess = c.RemoveFingerprint
	config.WithCredentials = c.WithCredentials

	headers, err := parsePairs(c.Headers, ":")
	if err != nil {
		return tus.Config{}, fmt.Errorf("invalid header: %w", err)
	}
	if c.Token != "" {
		headers["Authorization"] = "Bearer " + string(c.Token)
	}
	config.Headers = headers

	metadata, err := parsePairs(c.Metadata, "=")
	if err != nil {
		return tus.Config{}, fmt.Errorf("invalid metadata: %w", err)
	}
	config.Metadata = metadata

	if c.ChunkSize != "" {
		chunkSize, err := units.RAMInBytes(c.ChunkSize)
		if err != nil {
			return tus.Config{}, fmt.Errorf("invalid chunk size: %w", err)
		}
		config.ChunkSize = chunkSize
	}

	if len(c.RetryDelays) > 0 {
		delays := make([]time.Duration, 0, len(c.RetryDelays))
		for _, raw := range c.RetryDelays {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return tus.Config{}, fmt.Errorf("invalid retry delay: %w", err)
			}
			delays = append(delays, d)
		}
		config.RetryDelays = delays
	}

	if err := config.Validate(); err != nil {
		return tus.Config{}, err
	}
	return config, nil
}

// parsePairs splits each item at the first separator.
func parsePairs(items []string, separator string) (map[string]string, error) {
	pairs := map[string]string{}
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		key, value, ok := strings.Cut(item, separator)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not in key%svalue format", item, separator)
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs, nil
}

func defaultStorePath() string {
	return filepath.Join("~", ".tusup", "uploads.json")
}
