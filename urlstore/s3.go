package urlstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3Retries = 3

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the part of the S3 client used by the S3 store.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 is a Store keeping one object per fingerprint, so uploads can be resumed
// from another machine.
type S3 struct {
	client    S3API
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	retryWait time.Duration
	logger    log.Logger
}

// NewS3 creates a store using the default AWS credential chain, or the static
// credentials in params when both are set.
func NewS3(ctx context.Context, params S3Params, logger log.Logger) (*S3, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewS3WithClient(s3.NewFromConfig(*cfg), params.Bucket, params.Prefix, logger)
}

// NewS3WithClient ...
func NewS3WithClient(client S3API, bucket, prefix string, logger log.Logger) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}

	return &S3{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		prefix:    prefix,
		retryWait: 5 * time.Second,
		logger:    logger,
	}, nil
}

// Get ...
func (s *S3) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	var url string
	var found bool
	err := retry.Times(numS3Retries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(fingerprint)),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, true
			}
			s.logger.Debugf("get upload url (attempt %d): %s", attempt, err)
			return fmt.Errorf("get upload url: %w", err), false
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				s.logger.Warnf("%s", err)
			}
		}()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read upload url: %w", err), false
		}

		url = strings.TrimSpace(string(b))
		found = true
		return nil, true
	})
	if err != nil {
		return "", false, err
	}
	return url, found, nil
}

// Set ...
func (s *S3) Set(ctx context.Context, fingerprint, url string) error {
	return retry.Times(numS3Retries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(fingerprint)),
			Body:        strings.NewReader(url),
			ContentType: aws.String("text/plain"),
		})
		if err != nil {
			s.logger.Debugf("put upload url (attempt %d): %s", attempt, err)
			return fmt.Errorf("put upload url: %w", err), false
		}
		return nil, true
	})
}

// Delete ...
func (s *S3) Delete(ctx context.Context, fingerprint string) error {
	return retry.Times(numS3Retries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(fingerprint)),
		})
		if err != nil && !isNotFound(err) {
			s.logger.Debugf("delete upload url (attempt %d): %s", attempt, err)
			return fmt.Errorf("delete upload url: %w", err), false
		}
		return nil, true
	})
}

func (s *S3) key(fingerprint string) string {
	return s.prefix + fingerprint
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NotFound, *types.NoSuchKey:
		return true
	default:
		return false
	}
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, errors.New("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
