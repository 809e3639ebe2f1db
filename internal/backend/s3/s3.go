// Package s3 adapts an S3 bucket as an edge cache tier, the slowest and
// largest level of a hierarchy.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

const backendName = "s3"

// s3API is the slice of the S3 client this adapter uses, kept narrow so
// tests can substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, opts ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *awss3.DeleteObjectsInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
}

// Config configures the S3 tier.
type Config struct {
	Bucket string
	Region string

	// Prefix namespaces the objects so Clear only removes this tier's
	// entries from a shared bucket.
	Prefix string

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
}

// Adapter is a cache tier backed by an S3 bucket. TTL is not enforced
// per object: expiry belongs to a bucket lifecycle rule on the prefix,
// which is the only mechanism S3 offers.
type Adapter struct {
	client   s3API
	bucket   string
	prefix   string
	logger   *zap.Logger
	counters types.OpCounters
}

// New builds the S3 tier using the default AWS credential chain.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, cperrors.Classify(backendName, "configure", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient builds the tier over an existing client.
func NewWithClient(client s3API, cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cachepulse/"
	}

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.With(zap.String("component", "s3_tier")),
	}
}

// Name identifies the tier in logs and metrics.
func (a *Adapter) Name() string { return backendName }

func (a *Adapter) key(key string) string { return a.prefix + key }

// isNotFound reports whether the error means the object does not exist.
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}

// Get retrieves an object. A missing object is a miss, not an error.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(key)),
	})
	if err != nil {
		a.counters.Miss(time.Since(start))
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, cperrors.Classify(backendName, "get", err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		a.counters.Miss(time.Since(start))
		return nil, false, cperrors.NewAdapterError(cperrors.KindSerialization, backendName, "get", err)
	}

	a.counters.Hit(time.Since(start))
	return value, true, nil
}

// Set stores an object. The ttl argument is accepted for interface
// uniformity and ignored: expiry is a bucket lifecycle concern.
func (a *Adapter) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	start := time.Now()

	_, err := a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.key(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	a.counters.Request(time.Since(start))
	if err != nil {
		return cperrors.Classify(backendName, "set", err)
	}
	return nil
}

// Delete removes an object. Absent objects are not an error; S3 delete
// is idempotent anyway.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := a.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(key)),
	})
	a.counters.Request(time.Since(start))
	if err != nil && !isNotFound(err) {
		return cperrors.Classify(backendName, "delete", err)
	}
	return nil
}

// Clear lists and batch-deletes every object under the prefix, paging
// through the listing until exhausted.
func (a *Adapter) Clear(ctx context.Context) error {
	start := time.Now()
	defer func() { a.counters.Request(time.Since(start)) }()

	var continuation *string
	for {
		page, err := a.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(a.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return cperrors.Classify(backendName, "clear", err)
		}

		if len(page.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = a.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
				Bucket: aws.String(a.bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return cperrors.Classify(backendName, "clear", err)
			}
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		continuation = page.NextContinuationToken
	}
}

// Metrics returns a snapshot of this tier's counters.
func (a *Adapter) Metrics() types.CacheMetrics {
	return a.counters.Snapshot(0)
}
