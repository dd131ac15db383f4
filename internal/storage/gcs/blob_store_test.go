package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: "summaries-bucket"})
	require.NoError(t, err)
	require.Equal(t, "summaries-bucket", store.bucket)
}

func TestPutObjectRequiresName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.ErrorContains(t, store.PutObject(context.Background(), "  ", "application/json", nil), "object name is required")
}
