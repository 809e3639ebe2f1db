package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
)

// fakeS3 is an in-memory s3API with a page size small enough to
// exercise listing continuation.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	failWith error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	delete(f.objects, *in.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	var keys []string
	for key := range f.objects {
		if in.Prefix == nil || strings.HasPrefix(key, *in.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, key := range keys {
			if key == *in.ContinuationToken {
				start = i
				break
			}
		}
	}

	end := start + f.pageSize
	truncated := end < len(keys)
	if !truncated {
		end = len(keys)
	}

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *awss3.DeleteObjectsInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, obj := range in.Delete.Objects {
		delete(f.objects, *obj.Key)
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func newTestAdapter() (*Adapter, *fakeS3) {
	fake := newFakeS3()
	adapter := NewWithClient(fake, Config{Bucket: "cache-bucket", Prefix: "edge/"}, nil)
	return adapter, fake
}

func TestAdapter_SetGet(t *testing.T) {
	adapter, fake := newTestAdapter()
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), 0))
	assert.Contains(t, fake.objects, "edge/k")

	value, found, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestAdapter_GetMiss(t *testing.T) {
	adapter, _ := newTestAdapter()

	value, found, err := adapter.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
	assert.Equal(t, uint64(1), adapter.Metrics().Misses)
}

func TestAdapter_Delete(t *testing.T) {
	adapter, fake := newTestAdapter()
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, adapter.Delete(ctx, "k"))
	assert.Equal(t, 0, fake.count())

	assert.NoError(t, adapter.Delete(ctx, "never-set"))
}

func TestAdapter_ClearPagesThroughListing(t *testing.T) {
	adapter, fake := newTestAdapter()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, adapter.Set(ctx, key, []byte("v"), 0))
	}
	fake.objects["other-app/kept"] = []byte("x")

	require.NoError(t, adapter.Clear(ctx))

	assert.Equal(t, 1, fake.count(), "clear must only remove the tier's prefix")
	assert.Contains(t, fake.objects, "other-app/kept")
}

func TestAdapter_BackendError(t *testing.T) {
	adapter, fake := newTestAdapter()
	fake.failWith = errors.New("access denied")

	_, found, err := adapter.Get(context.Background(), "k")
	assert.False(t, found)
	var ae *cperrors.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "s3", ae.Backend)

	err = adapter.Set(context.Background(), "k", []byte("v"), 0)
	require.ErrorAs(t, err, &ae)
	err = adapter.Clear(context.Background())
	require.ErrorAs(t, err, &ae)
}
