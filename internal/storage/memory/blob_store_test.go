package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

func TestBlobStoreKeepsIsolatedCopies(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "exports/places.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/places.json", uri)

	payload[0] = 'C'
	blob, ok := store.Get("exports/places.json")
	require.True(t, ok)
	require.Equal(t, "content", string(blob.Data))
	require.Equal(t, "application/json", blob.ContentType)

	blob.Data[0] = 'X'
	again, _ := store.Get("exports/places.json")
	require.Equal(t, "content", string(again.Data))

	_, ok = store.Get("exports/missing.json")
	require.False(t, ok)
}

func TestBlobStoreOverwritesAndLists(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "b.xlsx", "application/octet-stream", strings.NewReader("v1"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "a.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "b.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", strings.NewReader("v2"))
	require.NoError(t, err)

	require.Equal(t, []string{"a.json", "b.xlsx"}, store.Paths())
	blob, _ := store.Get("b.xlsx")
	require.Equal(t, "v2", string(blob.Data))
	require.Contains(t, blob.ContentType, "spreadsheetml")

	_, err = store.PutObject(ctx, "", "", strings.NewReader(""))
	require.ErrorContains(t, err, "object path is required")
}

func TestCheckpointStoreIsolation(t *testing.T) {
	t.Parallel()

	store := NewCheckpointStore()
	ctx := context.Background()
	st := crawler.NewState(crawler.NewJob("karaoke"), time.Now())
	st.Backlog = []string{"a", "b"}
	st.Cursor = 1
	st.Results = []crawler.Record{{crawler.NameField: "KTV"}}

	require.NoError(t, store.Save(ctx, st))
	st.Results[0][crawler.NameField] = "mutated"

	loaded, err := store.Load(ctx, "karaoke")
	require.NoError(t, err)
	require.Equal(t, "KTV", loaded.Results[0].Name())
	require.Equal(t, 1, store.SaveCount("karaoke"))

	_, err = store.Load(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrCheckpointNotFound)

	store.PutRaw("garbage", []byte("{"))
	_, err = store.Load(ctx, "garbage")
	require.True(t, crawler.IsCheckpointAbsent(err))

	slugs, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"garbage", "karaoke"}, slugs)

	require.NoError(t, store.Delete(ctx, "karaoke"))
	require.NoError(t, store.Delete(ctx, "karaoke"))
	_, err = store.Load(ctx, "karaoke")
	require.ErrorIs(t, err, crawler.ErrCheckpointNotFound)
}
