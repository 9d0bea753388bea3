// Package objectstore implements the blob get/put/list surface the
// replicator pushes through: an S3 client behind a circuit breaker and a
// self-imposed rate limit, plus an in-memory store for tests.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"hindsight/internal/domain"
)

const (
	// callTimeout bounds every object-store call.
	callTimeout = 15 * time.Second

	// MaxPayloadBytes caps uploaded and downloaded payloads.
	MaxPayloadBytes = 10 * 1024 * 1024
)

// s3API abstracts the S3 methods used, for testability.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements domain.BlobStore against an S3-compatible bucket.
// The object ETag serves as the opaque optimistic-concurrency token.
type S3Store struct {
	client  s3API
	bucket  string
	prefix  string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Options configures the S3-backed blob store.
type Options struct {
	Bucket   string
	Prefix   string // key namespace, e.g. "owner/repo/"
	Region   string
	Endpoint string // non-empty for S3-compatible stores
}

// New creates an S3Store using the default AWS credential chain.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket required", domain.ErrInvalidInput)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, opts, logger), nil
}

// newWithClient injects the S3 API (for testing).
func newWithClient(client s3API, opts Options, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		// One sustained call per second with room for a push+pull burst.
		limiter: rate.NewLimiter(rate.Limit(1), 8),
		logger:  logger,
	}
}

// Get implements domain.BlobStore.
func (s *S3Store) Get(ctx context.Context, key string) (domain.BlobObject, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.BlobObject{}, fmt.Errorf("%w: %v", domain.ErrObjectStore, err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlobObject{}, domain.ErrNotFound
		}
		return domain.BlobObject{}, fmt.Errorf("%w: get %s: %v", domain.ErrObjectStore, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxPayloadBytes))
	if err != nil {
		return domain.BlobObject{}, fmt.Errorf("%w: read %s: %v", domain.ErrObjectStore, key, err)
	}
	return domain.BlobObject{
		Key:     key,
		Version: aws.ToString(out.ETag),
		Data:    data,
	}, nil
}

// Put implements domain.BlobStore. A non-empty expectedVersion is enforced
// with a conditional write; a stale token returns ErrOptimisticUpdate.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if len(data) > MaxPayloadBytes {
		return "", fmt.Errorf("%w: payload %d bytes exceeds cap", domain.ErrLimitReached, len(data))
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrObjectStore, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
		Body:   bytes.NewReader(data),
	}
	if expectedVersion != "" {
		input.IfMatch = aws.String(expectedVersion)
	} else {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", domain.ErrOptimisticUpdate
		}
		return "", fmt.Errorf("%w: put %s: %v", domain.ErrObjectStore, key, err)
	}
	return aws.ToString(out.ETag), nil
}

// List implements domain.BlobStore.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrObjectStore, err)
	}

	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix + prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrObjectStore, prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key)[len(s.prefix):])
		}
		if out.NextContinuationToken == nil {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}

// Compile-time interface check.
var _ domain.BlobStore = (*S3Store)(nil)
