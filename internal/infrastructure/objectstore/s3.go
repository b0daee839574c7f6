package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/observability"
)

// S3Options configures an S3Store
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores
	PathStyle bool
	BaseURL   string

	AccessKeyID     string
	SecretAccessKey string
}

// S3Store stores objects in an S3 (or S3-compatible) bucket
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	logger  zerolog.Logger
}

// NewS3Store creates a store from the default AWS configuration chain.
// Static keys in opts take precedence over the chain.
func NewS3Store(ctx context.Context, opts S3Options, logger zerolog.Logger) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &S3Store{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: s3BaseURL(opts),
		logger:  observability.Component(logger, "objectstore").With().Str("backend", "s3").Logger(),
	}, nil
}

// s3BaseURL picks the public URL prefix for objects in the bucket
func s3BaseURL(opts S3Options) string {
	switch {
	case opts.BaseURL != "":
		return opts.BaseURL
	case opts.Endpoint != "":
		endpoint := strings.TrimRight(opts.Endpoint, "/")
		if opts.PathStyle {
			return endpoint + "/" + opts.Bucket
		}
		scheme, host, ok := strings.Cut(endpoint, "://")
		if !ok {
			return endpoint + "/" + opts.Bucket
		}
		return fmt.Sprintf("%s://%s.%s", scheme, opts.Bucket, host)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
}

// Put uploads data and returns the object's public URL
func (s *S3Store) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s in bucket %s: %w", name, s.bucket, err)
	}

	s.logger.Debug().Str("object", name).Int("bytes", len(data)).Msg("object stored")
	return joinURL(s.baseURL, name), nil
}
