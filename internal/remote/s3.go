package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/snapshot"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultS3Key is the object key used when none is configured.
const DefaultS3Key = "docsync/snapshot.json"

// S3Config configures the S3 backend. Endpoint is only needed for
// S3-compatible services such as MinIO; it also switches to path-style
// addressing. Empty credentials fall back to the default AWS chain.
type S3Config struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores the snapshot as a single object.
type S3 struct {
	client s3API
	bucket string
	key    string
	logger *slog.Logger
}

// NewS3 loads AWS configuration and builds the client.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 remote requires a bucket")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, cfg.Bucket, cfg.Key, logger), nil
}

func newS3WithClient(client s3API, bucket, key string, logger *slog.Logger) *S3 {
	if key == "" {
		key = DefaultS3Key
	}

	return &S3{client: client, bucket: bucket, key: key, logger: logger}
}

// LoadSnapshot fetches and decodes the snapshot object. A missing object
// means no device has pushed yet.
func (s *S3) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			s.logger.Debug("no remote snapshot yet", slog.String("bucket", s.bucket), slog.String("key", s.key))
			return nil, nil
		}

		return nil, fmt.Errorf("%w: s3 get %s/%s: %w", syncerr.ErrRemoteUnavailable, s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading s3 body: %w", syncerr.ErrRemoteUnavailable, err)
	}

	return snapshot.Decode(data)
}

// SaveSnapshot encodes and uploads the snapshot, replacing the object.
func (s *S3) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put %s/%s: %w", syncerr.ErrRemoteUnavailable, s.bucket, s.key, err)
	}

	s.logger.Debug("snapshot uploaded",
		slog.String("bucket", s.bucket),
		slog.String("key", s.key),
		slog.String("hash", snap.Meta.Hash),
		slog.Int("bytes", len(data)),
	)

	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible services report a missing key with a generic code.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	return false
}
