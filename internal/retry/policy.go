// Package retry wraps single-item extraction with bounded, timeout-aware
// retries and jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/metrics"
)

var errNoName = errors.New("extracted record has no name")

// Config holds retry tunables.
type Config struct {
	// MaxRetries is the total number of attempts per item.
	MaxRetries int
	// BaseTimeout is the deadline of the first attempt; attempt k gets
	// BaseTimeout*(k+1).
	BaseTimeout time.Duration
	// BackoffUnit scales the 2^k backoff.
	BackoffUnit time.Duration
	// BackoffJitter bounds the random extra wait added to each backoff.
	BackoffJitter time.Duration
}

// DefaultConfig returns the stock retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseTimeout:   30 * time.Second,
		BackoffUnit:   time.Second,
		BackoffJitter: time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return fmt.Errorf("max retries must be >= 1")
	case c.BaseTimeout <= 0:
		return fmt.Errorf("base timeout must be > 0")
	case c.BackoffUnit < 0 || c.BackoffJitter < 0:
		return fmt.Errorf("backoff durations must be >= 0")
	}
	return nil
}

// Policy attempts an item through an extractor.
type Policy struct {
	extractor crawler.Extractor
	cfg       Config
	sleep     crawler.SleepFunc
	jitter    func(time.Duration) time.Duration
	logger    *zap.Logger
}

// Option customizes a Policy.
type Option func(*Policy)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn crawler.SleepFunc) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithJitter replaces the jitter source.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(p *Policy) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// WithLogger sets the policy logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		p.logger = logging.OrNop(logger).Named("retry")
	}
}

// New builds a Policy around extractor.
func New(extractor crawler.Extractor, cfg Config, opts ...Option) (*Policy, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		extractor: extractor,
		cfg:       cfg,
		sleep:     crawler.Sleep,
		jitter:    crawler.Jitter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Deadline returns the timeout applied to attempt k (0-indexed).
func (p *Policy) Deadline(k int) time.Duration {
	return p.cfg.BaseTimeout * time.Duration(k+1)
}

// BaseBackoff returns the jitter-free wait after a timed-out attempt k.
func (p *Policy) BaseBackoff(k int) time.Duration {
	return p.cfg.BackoffUnit << uint(k)
}

// Backoff returns the wait after a timed-out attempt k, jitter included.
func (p *Policy) Backoff(k int) time.Duration {
	return p.BaseBackoff(k) + p.jitter(p.cfg.BackoffJitter)
}

// Attempt extracts itemID with up to MaxRetries attempts. Timeouts are
// retried; any other failure is returned at once as a *PermanentItemError.
// When every attempt times out the error wraps ErrRetriesExhausted. If ctx
// ends the error wraps ErrInterrupted.
func (p *Policy) Attempt(ctx context.Context, itemID string) (crawler.Record, error) {
	var lastErr error
	for k := 0; k < p.cfg.MaxRetries; k++ {
		if err := ctx.Err(); err != nil {
			return nil, interrupted(itemID, err)
		}
		rec, err := p.attemptOnce(ctx, itemID, k)
		if err == nil {
			return rec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, interrupted(itemID, ctxErr)
		}
		if !crawler.IsTimeout(err) {
			if crawler.IsPermanent(err) {
				return nil, err
			}
			return nil, &crawler.PermanentItemError{ItemID: itemID, Err: err}
		}
		lastErr = err
		if k == p.cfg.MaxRetries-1 {
			break
		}
		wait := p.Backoff(k)
		p.logger.Warn("attempt timed out, backing off",
			zap.String("url", itemID),
			zap.Int("attempt", k+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveRetry()
		if err := p.sleep(ctx, wait); err != nil {
			return nil, interrupted(itemID, err)
		}
	}
	return nil, &crawler.PermanentItemError{
		ItemID: itemID,
		Err:    fmt.Errorf("%w after %d attempts: %w", crawler.ErrRetriesExhausted, p.cfg.MaxRetries, lastErr),
	}
}

// attemptOnce owns exactly one handle for the lifetime of the attempt.
func (p *Policy) attemptOnce(ctx context.Context, itemID string, k int) (rec crawler.Record, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAttempt(attemptResult(err), time.Since(start))
	}()

	handle, err := p.extractor.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	defer func() {
		if closeErr := handle.Close(); closeErr != nil {
			p.logger.Debug("close handle", zap.String("url", itemID), zap.Error(closeErr))
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, p.Deadline(k))
	defer cancel()

	rec, err = handle.Extract(attemptCtx, itemID)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !crawler.IsTimeout(err) {
			err = &crawler.TransientItemError{ItemID: itemID, Err: err}
		}
		return nil, err
	}
	if !rec.Valid() {
		return nil, &crawler.PermanentItemError{ItemID: itemID, Err: errNoName}
	}
	return rec, nil
}

func interrupted(itemID string, cause error) error {
	return fmt.Errorf("%s: %w: %w", itemID, crawler.ErrInterrupted, cause)
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case crawler.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
