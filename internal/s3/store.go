package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ryanuber/go-glob"
)

// BucketStore exposes one bucket prefix as a flat set of named files. Names
// are keys relative to the prefix; objects in nested "directories" are not
// listed.
type BucketStore struct {
	client Client
	bucket string
	prefix string
}

// NewBucketStore creates a store rooted at bucket/prefix.
func NewBucketStore(client Client, bucket, prefix string) *BucketStore {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BucketStore{client: client, bucket: bucket, prefix: prefix}
}

// List returns the names under the prefix matching pattern, sorted.
func (s *BucketStore) List(ctx context.Context, pattern string) ([]string, error) {
	objects, err := s.client.ListObjects(ctx, s.bucket, s.prefix, ListOptions{Delimiter: "/"})
	if err != nil {
		return nil, err
	}

	var names []string
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		if pattern == "" || glob.Glob(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read fetches the object called name.
func (s *BucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	body, _, err := s.client.GetObject(ctx, s.bucket, s.key(name))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", s.bucket, s.key(name), err)
	}
	return data, nil
}

// Write stores data as the object called name.
func (s *BucketStore) Write(ctx context.Context, name string, data []byte) error {
	return s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), nil)
}

// String describes the store location for logs.
func (s *BucketStore) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

func (s *BucketStore) key(name string) string {
	return s.prefix + name
}
