package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *CheckpointStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewCheckpointStoreWithPool(mock, "")
	require.NoError(t, err)
	return mock, store
}

func sampleState() *crawler.State {
	now := time.Unix(1700000000, 0).UTC()
	st := crawler.NewState(crawler.NewJob("nail salon"), now)
	st.Backlog = []string{"https://maps/place/a", "https://maps/place/b"}
	st.Cursor = 1
	st.Results = []crawler.Record{{crawler.NameField: "Lotus Nails", "phone": "0901234567"}}
	st.LastCheckpoint = now.Add(time.Minute)
	return st
}

func TestSaveUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	st := sampleState()

	mock.ExpectExec("INSERT INTO crawl_checkpoints").
		WithArgs(
			"nail_salon",
			"nail salon",
			false,
			1,
			2,
			pgxmock.AnyArg(),
			st.LastCheckpoint,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsInvalidState(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	st := sampleState()
	st.Cursor = 0

	require.Error(t, store.Save(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDecodesSnapshot(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	raw, err := json.Marshal(sampleState())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT snapshot FROM crawl_checkpoints").
		WithArgs("nail_salon").
		WillReturnRows(mock.NewRows([]string{"snapshot"}).AddRow(raw))

	st, err := store.Load(context.Background(), "nail_salon")
	require.NoError(t, err)
	require.Equal(t, 1, st.Cursor)
	require.Equal(t, "Lotus Nails", st.Results[0].Name())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT snapshot FROM crawl_checkpoints").
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT snapshot FROM crawl_checkpoints").
		WithArgs("mangled").
		WillReturnRows(mock.NewRows([]string{"snapshot"}).AddRow([]byte(`{"slug":"mangled","cursor":9,"backlog":[]}`)))
	mock.ExpectQuery("SELECT snapshot FROM crawl_checkpoints").
		WithArgs("down").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Load(context.Background(), "gone")
	require.ErrorIs(t, err, crawler.ErrCheckpointNotFound)

	_, err = store.Load(context.Background(), "mangled")
	var corrupt *crawler.CheckpointCorruptionError
	require.ErrorAs(t, err, &corrupt)

	_, err = store.Load(context.Background(), "down")
	require.Error(t, err)
	require.False(t, crawler.IsCheckpointAbsent(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndList(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("DELETE FROM crawl_checkpoints").
		WithArgs("nail_salon").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT slug FROM crawl_checkpoints").
		WillReturnRows(mock.NewRows([]string{"slug"}).AddRow("bakery").AddRow("spa"))

	require.NoError(t, store.Delete(context.Background(), "nail_salon"))
	slugs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"bakery", "spa"}, slugs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCheckpointStoreWithPool(mock, "checkpoints; DROP TABLE x")
	require.Error(t, err)
	_, err = NewCheckpointStoreWithPool(nil, "")
	require.Error(t, err)
	_, err = NewCheckpointStore(context.Background(), Config{})
	require.Error(t, err)
}
