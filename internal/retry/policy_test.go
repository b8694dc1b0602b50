package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

type step func(ctx context.Context) (crawler.Record, error)

type scriptedExtractor struct {
	mu        sync.Mutex
	steps     []step
	calls     int
	deadlines []time.Duration
	openErr   error

	opened atomic.Int32
	closed atomic.Int32
}

func (s *scriptedExtractor) Open(context.Context) (crawler.Handle, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened.Add(1)
	return &scriptedHandle{parent: s}, nil
}

type scriptedHandle struct {
	parent *scriptedExtractor
}

func (h *scriptedHandle) Extract(ctx context.Context, _ string) (crawler.Record, error) {
	s := h.parent
	s.mu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		s.deadlines = append(s.deadlines, time.Until(dl))
	}
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	fn := s.steps[idx]
	s.mu.Unlock()
	return fn(ctx)
}

func (h *scriptedHandle) Close() error {
	h.parent.closed.Add(1)
	return nil
}

func succeed(name string) step {
	return func(context.Context) (crawler.Record, error) {
		return crawler.Record{crawler.NameField: name}, nil
	}
}

func timeout() step {
	return func(context.Context) (crawler.Record, error) {
		return nil, &crawler.TransientItemError{ItemID: "x", Err: context.DeadlineExceeded}
	}
}

func fail(err error) step {
	return func(context.Context) (crawler.Record, error) { return nil, err }
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestPolicy(t *testing.T, ex crawler.Extractor, rec *sleepRecorder) *Policy {
	t.Helper()
	cfg := Config{MaxRetries: 3, BaseTimeout: time.Second, BackoffUnit: time.Second, BackoffJitter: time.Second}
	p, err := New(ex, cfg,
		WithSleep(rec.sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
	require.NoError(t, err)
	return p
}

func TestAttemptSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{succeed("Phở Hòa")}}
	rec := &sleepRecorder{}
	p := newTestPolicy(t, ex, rec)

	got, err := p.Attempt(context.Background(), "https://maps/place/1")
	require.NoError(t, err)
	require.Equal(t, "Phở Hòa", got.Name())
	require.Empty(t, rec.waits)
	require.EqualValues(t, 1, ex.opened.Load())
	require.EqualValues(t, 1, ex.closed.Load())
}

func TestAttemptRetriesTimeoutsWithGrowingBackoff(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{timeout(), timeout(), succeed("Cafe")}}
	rec := &sleepRecorder{}
	p := newTestPolicy(t, ex, rec)

	got, err := p.Attempt(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, "Cafe", got.Name())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	require.EqualValues(t, 3, ex.opened.Load())
	require.EqualValues(t, 3, ex.closed.Load(), "every attempt releases its handle")

	require.Len(t, ex.deadlines, 3)
	for i := 1; i < len(ex.deadlines); i++ {
		assert.Greater(t, ex.deadlines[i], ex.deadlines[i-1], "attempt %d deadline must grow", i)
	}
}

func TestAttemptExhaustsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{timeout()}}
	rec := &sleepRecorder{}
	p := newTestPolicy(t, ex, rec)

	_, err := p.Attempt(context.Background(), "u")
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrRetriesExhausted)
	require.True(t, crawler.IsPermanent(err))
	require.Equal(t, 3, ex.calls)
	require.Len(t, rec.waits, 2, "no backoff after the final attempt")
	require.Equal(t, ex.opened.Load(), ex.closed.Load())
}

func TestAttemptDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{fail(errors.New("selector missing"))}}
	rec := &sleepRecorder{}
	p := newTestPolicy(t, ex, rec)

	_, err := p.Attempt(context.Background(), "u")
	require.Error(t, err)
	require.True(t, crawler.IsPermanent(err))
	require.NotErrorIs(t, err, crawler.ErrRetriesExhausted)
	require.Equal(t, 1, ex.calls)
	require.Empty(t, rec.waits)
	require.EqualValues(t, 1, ex.closed.Load())
}

func TestAttemptRejectsNamelessRecord(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{func(context.Context) (crawler.Record, error) {
		return crawler.Record{"phone": "0901234567"}, nil
	}}}
	p := newTestPolicy(t, ex, &sleepRecorder{})

	_, err := p.Attempt(context.Background(), "u")
	require.True(t, crawler.IsPermanent(err))
	require.Equal(t, 1, ex.calls)
}

func TestAttemptClassifiesDeadlineAsTransient(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{steps: []step{
		func(ctx context.Context) (crawler.Record, error) {
			<-ctx.Done()
			return nil, errors.New("navigation aborted")
		},
		succeed("Late Bloomer"),
	}}
	rec := &sleepRecorder{}
	cfg := Config{MaxRetries: 2, BaseTimeout: 10 * time.Millisecond, BackoffUnit: time.Millisecond}
	p, err := New(ex, cfg, WithSleep(rec.sleep))
	require.NoError(t, err)

	got, err := p.Attempt(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, "Late Bloomer", got.Name())
	require.Len(t, rec.waits, 1)
}

func TestAttemptInterruptedByParentContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ex := &scriptedExtractor{steps: []step{func(context.Context) (crawler.Record, error) {
		cancel()
		return nil, context.Canceled
	}}}
	p := newTestPolicy(t, ex, &sleepRecorder{})

	_, err := p.Attempt(ctx, "u")
	require.ErrorIs(t, err, crawler.ErrInterrupted)
	require.False(t, crawler.IsPermanent(err))
	require.EqualValues(t, 1, ex.closed.Load())
}

func TestAttemptOpenFailureIsPermanent(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{openErr: errors.New("browser gone")}
	p := newTestPolicy(t, ex, &sleepRecorder{})

	_, err := p.Attempt(context.Background(), "u")
	require.True(t, crawler.IsPermanent(err))
	require.Zero(t, ex.opened.Load())
}

func TestBackoffMonotonicity(t *testing.T) {
	t.Parallel()

	p, err := New(&scriptedExtractor{}, DefaultConfig())
	require.NoError(t, err)
	for k := 0; k < 6; k++ {
		require.GreaterOrEqual(t, p.BaseBackoff(k+1), p.BaseBackoff(k))
		require.Greater(t, p.Deadline(k+1), p.Deadline(k))
		b := p.Backoff(k)
		require.GreaterOrEqual(t, b, p.BaseBackoff(k))
		require.Less(t, b, p.BaseBackoff(k)+time.Second)
	}
	require.Equal(t, time.Second, p.BaseBackoff(0))
	require.Equal(t, 4*time.Second, p.BaseBackoff(2))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.MaxRetries = 0
	require.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.BaseTimeout = 0
	require.Error(t, bad.Validate())

	_, err := New(nil, DefaultConfig())
	require.Error(t, err)
}
