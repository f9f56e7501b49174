// Package cli implements the tusup command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-tusclient/input"
	"github.com/bitrise-io/go-tusclient/secretkeys"
	"github.com/bitrise-io/go-tusclient/stepconf"
	"github.com/bitrise-io/go-tusclient/tus"
	"github.com/bitrise-io/go-tusclient/urlstore"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the tusup command. Options are read from env first,
// flags take precedence.
func NewRootCommand(envGetter stepconf.EnvGetter, logger log.Logger) (*cobra.Command, error) {
	config := defaultConfig()
	if err := stepconf.NewInputParser(envGetter).Parse(&config); err != nil {
		return nil, err
	}
	keyManager := secretkeys.NewManager()
	secretHeaders := keyManager.Load(envGetter)

	cmd := &cobra.Command{
		Use:   "tusup [flags] <file|url|-|glob>...",
		Short: "Resumable uploads to tus servers",
		Example: `  tusup --endpoint https://tusd.tusdemo.net/files/ video.mp4
  tusup --endpoint https://tusd.tusdemo.net/files/ --chunk-size 5MB 'logs/**/*.log'
  tar c dir | tusup --endpoint https://tusd.tusdemo.net/files/ --defer-length --chunk-size 1MB -`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.EnableDebugLog(config.Verbose)
			if config.Verbose {
				stepconf.Print(config)
				if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "- Redacted headers: %s\n", keyManager.Format(secretHeaders)); err != nil {
					return err
				}
			}

			u := uploader{
				config:        config,
				secretHeaders: secretHeaders,
				pathModifier:  pathutil.NewPathModifier(),
				out:           cmd.OutOrStdout(),
				logger:        logger,
			}
			return u.run(cmd.Context(), args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.Endpoint, "endpoint", config.Endpoint, "Creation endpoint of the tus server")
	flags.StringVar(&config.UploadURL, "upload-url", config.UploadURL, "Continue this upload instead of creating one")
	flags.StringArrayVarP(&config.Headers, "header", "H", config.Headers, "Request header as 'Name: value', repeatable")
	flags.StringArrayVarP(&config.Metadata, "metadata", "m", config.Metadata, "Upload metadata as 'key=value', repeatable")
	flags.StringVar(&config.ChunkSize, "chunk-size", config.ChunkSize, "Maximum request body size, like 5MB, unlimited when empty")
	flags.StringSliceVar(&config.RetryDelays, "retry-delays", config.RetryDelays, "Delays before the retries, like 0,1s,3s,5s")
	flags.DurationVar(&config.RequestTimeout, "request-timeout", config.RequestTimeout, "Timeout of a single request")
	flags.BoolVar(&config.Deferred, "defer-length", config.Deferred, "Create uploads without a length")
	flags.BoolVar(&config.OverridePatch, "override-patch", config.OverridePatch, "Send chunks as POST with X-HTTP-Method-Override")
	flags.BoolVar(&config.NoResume, "no-resume", config.NoResume, "Do not resume previous uploads")
	flags.BoolVar(&config.RemoveFingerprint, "remove-fingerprint", config.RemoveFingerprint, "Forget the upload url once an upload finished")
	flags.BoolVar(&config.WithCredentials, "with-credentials", config.WithCredentials, "Send cookies set by the server")
	flags.BoolVar(&config.Compress, "compress", config.Compress, "Upload the zstd compressed input, implies --defer-length")
	flags.BoolVar(&config.StreamRemote, "stream-remote", config.StreamRemote, "Upload http(s) inputs while downloading them")
	flags.StringVar(&config.Store, "store", config.Store, "Upload url store: none, memory, file, sqlite or s3")
	flags.StringVar(&config.StorePath, "store-path", config.StorePath, "Path of the file or sqlite store")
	flags.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "Bucket of the s3 store")
	flags.StringVar(&config.S3Region, "s3-region", config.S3Region, "Region of the s3 store")
	flags.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "Key prefix of the s3 store")
	flags.BoolVarP(&config.Verbose, "verbose", "v", config.Verbose, "Enable debug logs")

	return cmd, nil
}

type uploader struct {
	config        Config
	secretHeaders []string
	pathModifier  pathutil.PathModifier
	out           io.Writer
	logger        log.Logger
}

func (u uploader) run(ctx context.Context, args []string) error {
	if u.config.Compress {
		u.config.Deferred = true
	}

	uploadConfig, err := u.config.uploadConfig()
	if err != nil {
		return err
	}

	inputs, err := u.expandInputs(args)
	if err != nil {
		return err
	}
	if uploadConfig.UploadURL != "" && len(inputs) > 1 {
		return fmt.Errorf("--upload-url can be used with a single input only, got %d", len(inputs))
	}

	store, closeStore, err := openStore(ctx, u.config, u.pathModifier, u.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			u.logger.Warnf("Failed to close upload url store: %s", err)
		}
	}()

	adapter := input.NewAdapter(input.Options{
		Compress:     u.config.Compress,
		StreamRemote: u.config.StreamRemote,
	}, u.logger)

	var failed []string
	for _, in := range inputs {
		if err := u.upload(ctx, in, uploadConfig, store, adapter); err != nil {
			if errors.Is(err, tus.ErrAborted) || ctx.Err() != nil {
				return err
			}
			u.logger.Errorf("Failed to upload %s: %s", in, err)
			failed = append(failed, in)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d uploads failed: %s", len(failed), len(inputs), strings.Join(failed, ", "))
	}
	return nil
}

func (u uploader) upload(ctx context.Context, in string, config tus.Config, store urlstore.Store, adapter tus.InputAdapter) error {
	config.Store = store
	config.SecretHeaders = u.secretHeaders
	config.InputAdapter = adapter
	config.Logger = u.logger
	config.Metadata = withFilename(config.Metadata, in)
	config.OnProgress = func(offset, length int64) {
		if length == tus.LengthUnknown {
			u.logger.Infof("%s: %s uploaded", in, units.HumanSize(float64(offset)))
			return
		}
		u.logger.Infof("%s: %s / %s (%.1f%%)", in, units.HumanSize(float64(offset)), units.HumanSize(float64(length)), percent(offset, length))
	}

	u.logger.Println()
	u.logger.Infof("Uploading %s", in)

	upload, err := tus.NewUpload(ctx, in, config)
	if err != nil {
		return err
	}
	if err := upload.Run(ctx); err != nil {
		return err
	}

	stats := upload.Stats()
	u.logger.Debugf("%d chunks, %d retries, %s/s", stats.FinishedCount(), stats.RetryCount(), units.HumanSize(stats.Throughput()))

	_, err = fmt.Fprintf(u.out, "%s\t%s\n", in, upload.URL())
	return err
}

// expandInputs expands glob patterns to the regular files they match. Urls,
// "-" and plain paths are kept as is.
func (u uploader) expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if arg == "-" || strings.Contains(arg, "://") || !hasMeta(arg) {
			inputs = append(inputs, arg)
			continue
		}

		base, pattern := doublestar.SplitPattern(arg)
		absBase, err := u.pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}

		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}

		var files []string
		for _, match := range matches {
			path := filepath.Join(absBase, match)
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			files = append(files, path)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		inputs = append(inputs, files...)
	}
	return inputs, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func withFilename(metadata map[string]string, in string) map[string]string {
	if _, ok := metadata["filename"]; ok || in == "-" {
		return metadata
	}

	name := in
	if i := strings.Index(name, "?"); i >= 0 && strings.Contains(name, "://") {
		name = name[:i]
	}
	name = filepath.Base(name)
	if name == "." || name == string(os.PathSeparator) {
		return metadata
	}

	withName := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		withName[k] = v
	}
	withName["filename"] = name
	return withName
}

func percent(offset, length int64) float64 {
	if length == 0 {
		return 100
	}
	return float64(offset) / float64(length) * 100
}
