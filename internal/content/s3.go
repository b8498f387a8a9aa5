package content

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible content store. A custom endpoint
// supports MinIO, Wasabi and other S3-compatible services.
type S3Config struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
}

// Validate checks that the configuration is usable.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 content store: bucket is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("s3 content store: access_key_id is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("s3 content store: secret_access_key is required")
	}
	return nil
}

// S3Store is a Store over an S3-compatible bucket. Objects are keyed by
// their content hash, so a blob can never be replaced with different bytes
// under the same key.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Store creates a content store over the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "s3_content_store").Logger(),
	}, nil
}

func (s *S3Store) objectKey(contentHash string) string {
	if s.prefix == "" {
		return contentHash
	}
	return s.prefix + "/" + contentHash
}

// Fetch downloads the blob stored under the given content hash.
func (s *S3Store) Fetch(ctx context.Context, contentHash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(contentHash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", ErrUnavailable, err)
	}
	return data, nil
}

// Hash computes the content hash for a blob.
func (s *S3Store) Hash(data []byte) string {
	return HashBytes(data)
}
