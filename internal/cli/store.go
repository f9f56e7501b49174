package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bitrise-io/go-tusclient/urlstore"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

// openStore returns the configured url store, nil when resuming is disabled.
// The returned function releases the store.
func openStore(ctx context.Context, c Config, pathModifier pathutil.PathModifier, logger log.Logger) (urlstore.Store, func() error, error) {
	noop := func() error { return nil }

	if c.NoResume {
		return nil, noop, nil
	}

	switch c.Store {
	case "", storeNone:
		return nil, noop, nil
	case storeMemory:
		return urlstore.NewMemory(), noop, nil
	case storeFile, storeSQLite:
		path, err := pathModifier.AbsPath(c.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("store path: %w", err)
		}
		if c.Store == storeFile {
			logger.Debugf("Using upload url store at %s", path)
			store, err := urlstore.NewFile(path)
			return store, noop, err
		}

		if c.StorePath == defaultStorePath() {
			path = filepath.Join(filepath.Dir(path), "uploads.db")
		}
		logger.Debugf("Using sqlite upload url store at %s", path)
		store, err := urlstore.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case storeS3:
		store, err := urlstore.NewS3(ctx, urlstore.S3Params{
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			AccessKeyID:     c.AWSAccessKeyID,
			SecretAccessKey: string(c.AWSSecretAccessKey),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 store: %w", err)
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q, use one of: %s, %s, %s, %s, %s", c.Store, storeNone, storeMemory, storeFile, storeSQLite, storeS3)
	}
}
