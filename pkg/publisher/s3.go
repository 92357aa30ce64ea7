package publisher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures NewS3Store.
type S3Options struct {
	Bucket string

	// Region overrides the region from the default AWS configuration.
	Region string

	// Endpoint points the client at an S3-compatible service and enables
	// path-style addressing.
	Endpoint string
}

// S3Store stores objects in one bucket.
type S3Store struct {
	bucket string
	client S3API
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store loads the default AWS configuration and creates a client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, engine.NewConfigError("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, engine.NewPermanentError("failed to load AWS configuration", err).
			WithCode(engine.ErrCodeConfig)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3StoreWithClient(opts.Bucket, s3.NewFromConfig(cfg, s3Opts...)), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(bucket string, client S3API) *S3Store {
	return &S3Store{bucket: bucket, client: client}
}

// Root returns s3://<bucket>.
func (s *S3Store) Root() string { return "s3://" + s.bucket }

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// Check confirms the bucket exists and is reachable.
func (s *S3Store) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if isS3NotFound(err) {
		return engine.NewPermanentError("bucket not found", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(s.bucket)
	}
	return storeFailed("head-bucket", s.bucket, err)
}

// Put uploads body. Bodies that are not seekable are buffered first.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if _, ok := body.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return storeFailed("put", key, err)
		}
		body = bytes.NewReader(data)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classifyS3("put", key, err)
	}
	return nil
}

// Get downloads the object.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return nil, classifyS3("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storeFailed("get", key, err)
	}
	return data, nil
}

// Exists issues a HEAD request.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Head returns object metadata.
func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return ObjectInfo{}, classifyS3("head", key, err)
	}
	return ObjectInfo{
		Path:        key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

func classifyS3(op, key string, err error) error {
	if isS3NotFound(err) {
		return notFound(key, err)
	}
	if msg := err.Error(); strings.Contains(msg, "SlowDown") || strings.Contains(msg, "TooManyRequests") {
		return engine.NewThrottledError("object store throttled", err).
			WithCode(engine.ErrCodeStoreFailed).
			WithResource(key).
			WithOperation(op)
	}
	return storeFailed(op, key, err)
}

// isS3NotFound matches typed not-found errors and, for HEAD responses that
// carry no body, the error code in the message.
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}
