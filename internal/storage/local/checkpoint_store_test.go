package local_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/storage/local"
)

func sampleState(query string, cursor int) *crawler.State {
	st := crawler.NewState(crawler.NewJob(query), time.Unix(1700000000, 0).UTC())
	for i := 0; i < 10; i++ {
		st.Backlog = append(st.Backlog, fmt.Sprintf("https://www.google.com/maps/place/%d", i))
	}
	st.Cursor = cursor
	for i := 0; i < cursor; i++ {
		st.Results = append(st.Results, crawler.Record{crawler.NameField: fmt.Sprintf("Place %d", i)})
	}
	return st
}

func TestCheckpointRoundTrip(t *testing.T) {
	store, err := local.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	st := sampleState("Quán ăn Huế", 4)
	require.NoError(t, store.Save(ctx, st))
	_, err = os.Stat(filepath.Join(store.Dir(), "quan_an_hue.json"))
	require.NoError(t, err)

	loaded, err := store.Load(ctx, st.Slug)
	require.NoError(t, err)
	assert.Equal(t, st.Query, loaded.Query)
	assert.Equal(t, 4, loaded.Cursor)
	assert.Equal(t, st.Backlog, loaded.Backlog)
	assert.Len(t, loaded.Results, 4)
	assert.Equal(t, "Place 3", loaded.Results[3].Name())

	st.Cursor = 5
	st.Results = append(st.Results, crawler.Record{crawler.NameField: "Place 4"})
	require.NoError(t, store.Save(ctx, st))
	loaded, err = store.Load(ctx, st.Slug)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Cursor)
}

func TestCheckpointLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewCheckpointStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "nothing_here")
	require.ErrorIs(t, err, crawler.ErrCheckpointNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))
	_, err = store.Load(ctx, "broken")
	var corrupt *crawler.CheckpointCorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.True(t, crawler.IsCheckpointAbsent(err))

	bad := `{"version":1,"query":"x","slug":"inconsistent","backlog":["a"],"cursor":5,"results":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inconsistent.json"), []byte(bad), 0o600))
	_, err = store.Load(ctx, "inconsistent")
	require.ErrorAs(t, err, &corrupt)

	other := `{"version":1,"query":"x","slug":"someone_else","backlog":[],"cursor":0,"results":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed.json"), []byte(other), 0o600))
	_, err = store.Load(ctx, "renamed")
	require.ErrorAs(t, err, &corrupt)
}

func TestCheckpointDeleteAndList(t *testing.T) {
	store, err := local.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "never_saved"))
	require.NoError(t, store.Save(ctx, sampleState("zoo", 0)))
	require.NoError(t, store.Save(ctx, sampleState("aquarium", 2)))

	slugs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aquarium", "zoo"}, slugs)

	require.NoError(t, store.Delete(ctx, "zoo"))
	slugs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aquarium"}, slugs)
}

func TestCheckpointRejectsInvalidInput(t *testing.T) {
	store, err := local.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	st := sampleState("x", 2)
	st.Cursor = 1 // results now exceed cursor
	require.Error(t, store.Save(ctx, st))

	_, err = store.Load(ctx, "../../etc/passwd")
	require.Error(t, err)
	require.Error(t, store.Delete(ctx, "a/b"))
}

func TestCheckpointConcurrentSaveLoadIsAtomic(t *testing.T) {
	store, err := local.NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleState("atomic", 0)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for round := 0; round < 5; round++ {
			for cursor := 0; cursor <= 10; cursor++ {
				if err := store.Save(ctx, sampleState("atomic", cursor)); err != nil {
					t.Errorf("save: %v", err)
					return
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			st, err := store.Load(ctx, "atomic")
			if err != nil {
				t.Errorf("load observed a partial snapshot: %v", err)
				return
			}
			if len(st.Results) != st.Cursor {
				t.Errorf("mixed snapshot: cursor %d with %d results", st.Cursor, len(st.Results))
				return
			}
		}
	}()
	wg.Wait()
}
