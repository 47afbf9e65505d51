package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newOfflineClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1/storage/v1/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(newOfflineClient(t), Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix, path, want string
	}{
		{"", "run/1.html", "run/1.html"},
		{"pages", "run/1.html", "pages/run/1.html"},
		{"/pages/", "/run/1.html", "pages/run/1.html"},
	}
	for _, tc := range cases {
		s, err := New(newOfflineClient(t), Config{Bucket: "archive", Prefix: tc.prefix})
		require.NoError(t, err)
		require.Equal(t, tc.want, s.ObjectName(tc.path))
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s, err := New(newOfflineClient(t), Config{Bucket: "archive"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}
