// internal/storage/s3/client.go
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/storage"
	"go.uber.org/zap"
)

type S3Client struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewS3Client creates a new S3 storage client.
func NewS3Client(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (*S3Client, error) {
	if cfg.S3Bucket == "" || cfg.S3Region == "" {
		return nil, fmt.Errorf("%w: S3 storage selected but S3_BUCKET_NAME or AWS_REGION is missing", storage.ErrStorageConfig)
	}
	logger = logger.Named("s3")

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	// Static credentials are for local dev; otherwise the SDK default chain applies.
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	// Custom endpoint for S3-compatible storage like MinIO
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		endpointURL, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid S3 endpoint URL: %w", err)
		}
		if endpointURL.Scheme == "" {
			endpoint = "http://" + endpoint
			logger.Warn("S3 endpoint missing scheme, defaulting to http", zap.String("endpoint", endpoint))
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	// Path-style addressing is needed for MinIO
	if cfg.S3UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("S3 storage initialized", zap.String("bucket", cfg.S3Bucket))
	return &S3Client{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.S3Bucket,
		logger: logger,
	}, nil
}

func (s *S3Client) UploadFile(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 (bucket: %s, key: %s): %w", s.bucket, key, err)
	}
	s.logger.Debug("Uploaded object", zap.String("key", key))
	return nil
}

func (s *S3Client) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to download from S3 (bucket: %s, key: %s): %w", s.bucket, key, err)
	}
	return output.Body, nil
}

func (s *S3Client) FileExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nfk *types.NotFound // HeadObject returns 404 NotFound, not NoSuchKey
		if errors.As(err, &nfk) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check S3 file existence (bucket: %s, key: %s): %w", s.bucket, key, err)
	}
	return true, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Client) Close() error {
	return nil
}
