// Package scheduler runs a backlog through a task in fixed-size, concurrently
// executed batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/metrics"
)

// Config controls batch sizing and pacing.
type Config struct {
	// Concurrency is both the batch size and the in-flight bound.
	Concurrency int
	// StaggerBase delays the item in slot i by StaggerBase*i.
	StaggerBase   time.Duration
	StaggerJitter time.Duration
	// InterBatchDelay is slept between batches, not after the last one.
	InterBatchDelay  time.Duration
	InterBatchJitter time.Duration
	// LaunchRate caps item launches per second; zero means unlimited.
	LaunchRate  float64
	LaunchBurst int
}

// DefaultConfig returns the stock pacing.
func DefaultConfig() Config {
	return Config{
		Concurrency:      3,
		StaggerBase:      50 * time.Millisecond,
		StaggerJitter:    100 * time.Millisecond,
		InterBatchDelay:  time.Second,
		InterBatchJitter: time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1")
	}
	if c.StaggerBase < 0 || c.StaggerJitter < 0 || c.InterBatchDelay < 0 || c.InterBatchJitter < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if c.LaunchRate < 0 {
		return fmt.Errorf("launch rate must be >= 0")
	}
	return nil
}

// Task resolves one backlog item. It must not touch shared crawl state.
type Task func(ctx context.Context, index int, itemID string) (crawler.Record, error)

// Gate is consulted before every launch. Returning false stops the run after
// in-flight items finish. A Gate may block, e.g. while paused.
type Gate func(ctx context.Context) bool

// Outcome is the result of one launched item.
type Outcome struct {
	Index  int
	ItemID string
	Record crawler.Record
	Err    error
}

// StopReason says why Process returned.
type StopReason int

// Stop reasons.
const (
	// StopExhausted means every item from start to the end was folded.
	StopExhausted StopReason = iota
	// StopGated means the gate refused a launch.
	StopGated
	// StopCanceled means ctx ended; outcomes after the first interrupted
	// item were discarded.
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopGated:
		return "gated"
	case StopCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Scheduler processes backlogs in batches.
type Scheduler struct {
	cfg     Config
	limiter *rate.Limiter
	sleep   crawler.SleepFunc
	jitter  func(time.Duration) time.Duration
	logger  *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSleep replaces the pacing sleeper.
func WithSleep(fn crawler.SleepFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithJitter replaces the jitter source.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(logger).Named("scheduler")
	}
}

// New builds a Scheduler.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	burst := cfg.LaunchBurst
	if cfg.LaunchRate > 0 {
		limit = rate.Limit(cfg.LaunchRate)
	}
	if burst < 1 {
		burst = cfg.Concurrency
	}
	s := &Scheduler{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		sleep:   crawler.Sleep,
		jitter:  crawler.Jitter,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Concurrency returns the configured batch size.
func (s *Scheduler) Concurrency() int {
	return s.cfg.Concurrency
}

// Process runs backlog[start:] through task. Within a batch all items run
// concurrently; the next batch starts only after the whole batch finished.
// Outcomes are passed to fold on the calling goroutine in backlog order, so
// fold may mutate caller state without locking. Launched items always form a
// contiguous prefix of the batch.
func (s *Scheduler) Process(ctx context.Context, backlog []string, start int, gate Gate, task Task, fold func(Outcome)) (StopReason, error) {
	if start < 0 || start > len(backlog) {
		return StopExhausted, fmt.Errorf("start %d out of range [0,%d]", start, len(backlog))
	}
	if gate == nil {
		gate = func(context.Context) bool { return true }
	}
	size := s.cfg.Concurrency

	for batchStart := start; batchStart < len(backlog); batchStart += size {
		if batchStart > start {
			if err := s.sleep(ctx, s.cfg.InterBatchDelay+s.jitter(s.cfg.InterBatchJitter)); err != nil {
				return StopCanceled, err
			}
		}
		end := min(batchStart+size, len(backlog))
		launched, outcomes := s.runBatch(ctx, backlog, batchStart, end, gate, task)
		s.logger.Debug("batch finished",
			zap.Int("from", batchStart),
			zap.Int("launched", launched),
			zap.Int("size", end-batchStart),
		)

		for _, outcome := range outcomes[:launched] {
			if errors.Is(outcome.Err, crawler.ErrInterrupted) {
				return StopCanceled, interruptCause(ctx)
			}
			fold(outcome)
		}
		if launched < end-batchStart {
			if err := ctx.Err(); err != nil {
				return StopCanceled, err
			}
			return StopGated, nil
		}
	}
	return StopExhausted, nil
}

func (s *Scheduler) runBatch(ctx context.Context, backlog []string, from, to int, gate Gate, task Task) (int, []Outcome) {
	outcomes := make([]Outcome, to-from)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	launched := 0
	for i := from; i < to; i++ {
		if ctx.Err() != nil || !gate(ctx) {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		slot := i - from
		index := i
		itemID := backlog[i]
		launched++
		g.Go(func() error {
			outcomes[slot] = s.runItem(ctx, slot, index, itemID, task)
			return nil
		})
	}
	_ = g.Wait()
	return launched, outcomes
}

func (s *Scheduler) runItem(ctx context.Context, slot, index int, itemID string, task Task) (out Outcome) {
	out = Outcome{Index: index, ItemID: itemID}
	metrics.IncInFlight()
	defer metrics.DecInFlight()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.Int("index", index), zap.String("url", itemID), zap.Any("panic", r))
			out.Record = nil
			out.Err = &crawler.PermanentItemError{ItemID: itemID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	stagger := s.cfg.StaggerBase*time.Duration(slot%s.cfg.Concurrency) + s.jitter(s.cfg.StaggerJitter)
	if err := s.sleep(ctx, stagger); err != nil {
		out.Err = fmt.Errorf("%s: %w: %w", itemID, crawler.ErrInterrupted, err)
		return out
	}
	out.Record, out.Err = task(ctx, index, itemID)
	return out
}

func interruptCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return crawler.ErrInterrupted
}
