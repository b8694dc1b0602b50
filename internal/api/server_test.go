package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
	"github.com/JakeFAU/placecrawler/internal/storage/memory"
)

var testNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type staticStatus struct {
	status orchestrator.Status
	panics bool
}

func (s staticStatus) Status() orchestrator.Status {
	if s.panics {
		panic("status exploded")
	}
	return s.status
}

func seededStore(t *testing.T) *memory.CheckpointStore {
	t.Helper()
	store := memory.NewCheckpointStore()
	st := crawler.NewState(crawler.NewJob("phở hà nội"), testNow)
	st.Backlog = []string{"a", "b", "c"}
	st.Cursor = 2
	st.Results = []crawler.Record{{crawler.NameField: "Phở Thìn"}}
	st.Failed = 1
	require.NoError(t, store.Save(context.Background(), st))
	store.PutRaw("garbled", []byte("{"))
	return store
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *control.State) {
	t.Helper()
	ctl := &control.State{}
	srv, err := NewServer(seededStore(t), ctl, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return srv, ctl
}

func do(t *testing.T, srv *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(nil, &control.State{})
	require.Error(t, err)
	_, err = NewServer(memory.NewCheckpointStore(), nil)
	require.Error(t, err)
}

func TestHealthzSetsRequestID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"req-42"}})
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	long := strings.Repeat("x", maxRequestIDLen+1)
	rec = do(t, srv, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {long}})
	assert.NotEqual(t, long, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "placecrawler_retries_total")
}

func TestListCheckpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v1/checkpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Checkpoints []crawler.Progress `json:"checkpoints"`
	}](t, rec)
	require.Len(t, body.Checkpoints, 2)
	assert.Equal(t, "garbled", body.Checkpoints[0].Slug)
	assert.NotEmpty(t, body.Checkpoints[0].Error)
	assert.Equal(t, "pho_ha_noi", body.Checkpoints[1].Slug)
	assert.Equal(t, 2, body.Checkpoints[1].Cursor)
	assert.Equal(t, 3, body.Checkpoints[1].Backlog)
	assert.Equal(t, 1, body.Checkpoints[1].Failed)
}

func TestGetCheckpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/v1/checkpoints/pho_ha_noi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Checkpoint crawler.Progress `json:"checkpoint"`
	}](t, rec)
	assert.Equal(t, "phở hà nội", body.Checkpoint.Query)
	assert.Equal(t, 1, body.Checkpoint.Results)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/checkpoints/unknown", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/v1/checkpoints/Bad-Slug", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodGet, "/v1/checkpoints/garbled", nil).Code)
}

func TestControlIntents(t *testing.T) {
	t.Parallel()

	srv, ctl := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/v1/control/pause", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[control.Snapshot](t, rec).Paused)
	assert.True(t, ctl.Paused())

	rec = do(t, srv, http.MethodPost, "/v1/control/r", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, ctl.Paused())

	rec = do(t, srv, http.MethodPost, "/v1/control/save", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[control.Snapshot](t, rec).SaveRequested)

	rec = do(t, srv, http.MethodPost, "/v1/control/quit", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, ctl.QuitRequested())

	rec = do(t, srv, http.MethodGet, "/v1/control", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[control.Snapshot](t, rec)
	assert.True(t, snap.QuitRequested)
	assert.True(t, snap.SaveRequested)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/v1/control/explode", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/v1/control/pause", nil).Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, WithAPIKey("secret"))

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodGet, "/v1/control", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		do(t, srv, http.MethodGet, "/v1/control", http.Header{"X-Api-Key": {"wrong"}}).Code)
	assert.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/control", http.Header{"X-Api-Key": {"secret"}}).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/control?api_key=secret", nil).Code)
}

func TestCurrentJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/v1/jobs/current", nil).Code)

	status := orchestrator.Status{
		Phase:    crawler.PhaseProcessing,
		Progress: crawler.Progress{Slug: "pho", Cursor: 4, Backlog: 10},
		Active:   true,
	}
	srv, _ = newTestServer(t, WithStatus(staticStatus{status: status}))
	rec := do(t, srv, http.MethodGet, "/v1/jobs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Job orchestrator.Status `json:"job"`
	}](t, rec)
	assert.Equal(t, status, body.Job)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, WithStatus(staticStatus{panics: true}))
	rec := do(t, srv, http.MethodGet, "/v1/jobs/current", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestServeShutsDownWithContext(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
