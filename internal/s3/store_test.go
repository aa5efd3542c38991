package s3

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStore_ListFiltersPatternAndNesting(t *testing.T) {
	ctx := context.Background()
	client := &s3Client{api: newFakeAPI()}

	for _, key := range []string{"assets/a.djb", "assets/b.djb", "assets/c.png", "assets/nested/d.djb", "top.djb"} {
		require.NoError(t, client.PutObject(ctx, "game", key, strings.NewReader("x"), nil))
	}

	store := NewBucketStore(client, "game", "assets")

	names, err := store.List(ctx, "*.djb")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.djb", "b.djb"}, names)

	all, err := store.List(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.djb", "b.djb", "c.png"}, all)
}

func TestBucketStore_ReadWrite(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	store := NewBucketStore(&s3Client{api: api}, "game", "/out/")

	require.NoError(t, store.Write(ctx, "a.bin", []byte("payload")))
	assert.Contains(t, api.objects, "game/out/a.bin")

	data, err := store.Read(ctx, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = store.Read(ctx, "missing.bin")
	assert.True(t, IsNotFound(err))

	assert.Equal(t, "s3://game/out/", store.String())
}

func TestBucketStore_EmptyPrefix(t *testing.T) {
	ctx := context.Background()
	client := &s3Client{api: newFakeAPI()}
	require.NoError(t, client.PutObject(ctx, "game", "root.djb", strings.NewReader("x"), nil))
	require.NoError(t, client.PutObject(ctx, "game", "dir/inner.djb", strings.NewReader("x"), nil))

	names, err := NewBucketStore(client, "game", "").List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"root.djb"}, names)
}
