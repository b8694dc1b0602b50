package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRejectsMissingClientOrBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "exports"})
	require.ErrorContains(t, err, "storage client is required")

	_, err = New(newClient(t), Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectNamesAndURIs(t *testing.T) {
	t.Parallel()

	client := newClient(t)
	tests := []struct {
		name   string
		cfg    Config
		file   string
		object string
		uri    string
	}{
		{
			name:   "no prefix",
			cfg:    Config{Bucket: "exports"},
			file:   "places.json",
			object: "places.json",
			uri:    "gs://exports/places.json",
		},
		{
			name:   "slashes trimmed from prefix",
			cfg:    Config{Bucket: " exports ", Prefix: "/placecrawler/"},
			file:   "20250101_places.json",
			object: "placecrawler/20250101_places.json",
			uri:    "gs://exports/placecrawler/20250101_places.json",
		},
		{
			name:   "nested prefix",
			cfg:    Config{Bucket: "exports", Prefix: "vn/hanoi"},
			file:   "pho.xlsx",
			object: "vn/hanoi/pho.xlsx",
			uri:    "gs://exports/vn/hanoi/pho.xlsx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(client, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.object, store.ObjectName(tt.file))
			assert.Equal(t, tt.uri, store.URI(tt.file))
		})
	}
}

func TestMetadataIsCopied(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"run": "run-1"}
	store, err := New(newClient(t), Config{Bucket: "exports", Metadata: meta})
	require.NoError(t, err)
	meta["run"] = "mutated"
	assert.Equal(t, "run-1", store.metadata["run"])
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newClient(t), Config{Bucket: "exports"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "application/json", nil)
	require.ErrorContains(t, err, "object path is required")
}
