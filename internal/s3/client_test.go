package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory stand-in for the SDK client.
type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	pageSize int
	listCall int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.metadata[k] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	data, ok := f.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Metadata: f.metadata[k],
		ETag:     aws.String(`"etag"`),
	}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// ListObjectsV2 serves sorted keys in pages of pageSize using the index as token.
func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall++

	bucket := aws.ToString(in.Bucket) + "/"
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, bucket+aws.ToString(in.Prefix)) {
			keys = append(keys, strings.TrimPrefix(k, bucket))
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[bucket+k]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func TestClient_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	client := &s3Client{api: api}

	err := client.PutObject(ctx, "assets", "a.djb", strings.NewReader("envelope"), map[string]string{"profile": "kakao"})
	require.NoError(t, err)

	body, meta, err := client.GetObject(ctx, "assets", "a.djb")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "envelope", string(data))
	assert.Equal(t, "kakao", meta["profile"])
	assert.Equal(t, `"etag"`, meta["ETag"])

	head, err := client.HeadObject(ctx, "assets", "a.djb")
	require.NoError(t, err)
	assert.Equal(t, "8", head["Content-Length"])

	require.NoError(t, client.DeleteObject(ctx, "assets", "a.djb"))
	_, _, err = client.GetObject(ctx, "assets", "a.djb")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_ListObjectsFollowsPages(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.pageSize = 2
	client := &s3Client{api: api}

	for i := 0; i < 5; i++ {
		require.NoError(t, client.PutObject(ctx, "assets", fmt.Sprintf("in/%d.djb", i), strings.NewReader("x"), nil))
	}
	require.NoError(t, client.PutObject(ctx, "assets", "other/z.djb", strings.NewReader("x"), nil))

	objects, err := client.ListObjects(ctx, "assets", "in/", ListOptions{})
	require.NoError(t, err)
	require.Len(t, objects, 5)
	assert.Equal(t, "in/0.djb", objects[0].Key)
	assert.Equal(t, int64(1), objects[0].Size)
	assert.Equal(t, 3, api.listCall)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed NoSuchKey", fmt.Errorf("wrap: %w", &types.NoSuchKey{}), true},
		{"api NoSuchKey", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"head NotFound", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", fmt.Errorf("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFound(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "AccessDenied"})
	assert.Equal(t, "AccessDenied", ErrorCode(err))
	assert.Equal(t, "", ErrorCode(fmt.Errorf("boom")))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normalizeEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normalizeEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normalizeEndpoint("http://already", true))
}
