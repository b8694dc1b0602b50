package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/clock/system"
	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
)

// TimestampLayout prefixes merged export names.
const TimestampLayout = "20060102_150405"

// JobRunner runs one job; *Orchestrator implements it.
type JobRunner interface {
	Run(ctx context.Context, job crawler.Job) (Result, error)
}

// RunnerConfig controls sequencing and output naming.
type RunnerConfig struct {
	// InterQueryDelay is slept between jobs; quit interrupts it.
	InterQueryDelay time.Duration
	// OutputName is the stem of the merged export, after the timestamp.
	OutputName string
	// PerJobExport writes each finished job under its slug before the
	// merged export.
	PerJobExport bool
	// Topic receives job lifecycle events when a publisher is set.
	Topic string
}

// DefaultRunnerConfig returns the stock runner settings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		InterQueryDelay: 5 * time.Second,
		OutputName:      "places",
		PerJobExport:    true,
	}
}

// Summary reports a whole run.
type Summary struct {
	RunID    string
	Results  []Result
	Exported []string
}

// Runner processes queries strictly one after another: a job's crawl,
// export and checkpoint cleanup finish before the next job starts.
type Runner struct {
	jobs      JobRunner
	store     crawler.CheckpointStore
	exporter  crawler.Exporter
	publisher crawler.Publisher
	control   *control.State
	clock     crawler.Clock
	ids       crawler.IDGenerator
	cfg       RunnerConfig
	sleep     crawler.SleepFunc
	pollEvery time.Duration
	logger    *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithPublisher enables lifecycle notifications.
func WithPublisher(p crawler.Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(ids crawler.IDGenerator) RunnerOption {
	return func(r *Runner) { r.ids = ids }
}

// WithRunnerClock sets the time source.
func WithRunnerClock(clock crawler.Clock) RunnerOption {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRunnerSleep replaces the inter-query sleeper.
func WithRunnerSleep(fn crawler.SleepFunc) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logging.OrNop(logger).Named("runner") }
}

// NewRunner wires a Runner.
func NewRunner(
	jobs JobRunner,
	store crawler.CheckpointStore,
	exporter crawler.Exporter,
	ctl *control.State,
	cfg RunnerConfig,
	opts ...RunnerOption,
) (*Runner, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("job runner is required")
	case store == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case exporter == nil:
		return nil, fmt.Errorf("exporter is required")
	}
	if ctl == nil {
		ctl = &control.State{}
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "places"
	}
	r := &Runner{
		jobs:      jobs,
		store:     store,
		exporter:  exporter,
		control:   ctl,
		clock:     system.Clock{},
		cfg:       cfg,
		sleep:     crawler.Sleep,
		pollEvery: 250 * time.Millisecond,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run crawls queries in order. Per-job failures are logged and the run
// continues; a quit request ends the run after the active job checkpoints.
func (r *Runner) Run(ctx context.Context, queries []string) (Summary, error) {
	summary := Summary{RunID: r.newRunID()}
	logger := r.logger.With(zap.String("run_id", summary.RunID))
	jobs := uniqueJobs(queries)
	if len(jobs) == 0 {
		return summary, fmt.Errorf("no queries to crawl")
	}
	logger.Info("run starting", zap.Int("queries", len(jobs)))

	var batches []crawler.ExportBatch
	for i, job := range jobs {
		if r.stopping(ctx) {
			break
		}
		if i > 0 && !r.waitBetweenJobs(ctx) {
			break
		}
		if r.stopping(ctx) {
			break
		}
		logger.Info("job starting", zap.Int("position", i+1), zap.Int("of", len(jobs)), zap.String("query", job.Query))

		res, err := r.jobs.Run(ctx, job)
		summary.Results = append(summary.Results, res)
		r.notify(ctx, summary.RunID, res, err)
		if err != nil {
			logger.Error("job failed, continuing with next query", zap.String("query", job.Query), zap.Error(err))
			continue
		}
		if res.State == nil {
			continue
		}
		batch := crawler.BatchFromState(res.State)
		if len(batch.Records) > 0 {
			batches = append(batches, batch)
		}
		paths, exportErr := r.exportJob(ctx, batch)
		summary.Exported = append(summary.Exported, paths...)
		if exportErr != nil {
			logger.Error("export failed; checkpoint kept", zap.String("slug", job.Slug), zap.Error(exportErr))
			continue
		}
		if res.Phase == crawler.PhaseCompleted {
			if err := r.store.Delete(context.WithoutCancel(ctx), job.Slug); err != nil {
				logger.Warn("delete checkpoint", zap.String("slug", job.Slug), zap.Error(err))
			}
		}
	}

	if len(batches) > 0 {
		paths, err := r.exportMerged(ctx, batches)
		summary.Exported = append(summary.Exported, paths...)
		if err != nil {
			return summary, fmt.Errorf("merged export: %w", err)
		}
	}
	logger.Info("run finished",
		zap.Int("jobs", len(summary.Results)),
		zap.Strings("exported", summary.Exported),
		zap.Bool("quit", r.control.QuitRequested()),
	)
	return summary, nil
}

// ExportAll hands every stored checkpoint's results to the exporter without
// crawling. Checkpoints are kept.
func (r *Runner) ExportAll(ctx context.Context) ([]string, error) {
	slugs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var batches []crawler.ExportBatch
	for _, slug := range slugs {
		state, err := r.store.Load(ctx, slug)
		if err != nil {
			r.logger.Warn("skipping unreadable checkpoint", zap.String("slug", slug), zap.Error(err))
			continue
		}
		if len(state.Results) == 0 {
			continue
		}
		batches = append(batches, crawler.BatchFromState(state))
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return r.exportMerged(ctx, batches)
}

func (r *Runner) exportJob(ctx context.Context, batch crawler.ExportBatch) ([]string, error) {
	if !r.cfg.PerJobExport || len(batch.Records) == 0 {
		return nil, nil
	}
	paths, err := r.exporter.Export(context.WithoutCancel(ctx), batch.Slug, []crawler.ExportBatch{batch})
	if err != nil {
		return paths, fmt.Errorf("export %q: %w", batch.Slug, err)
	}
	return paths, nil
}

func (r *Runner) exportMerged(ctx context.Context, batches []crawler.ExportBatch) ([]string, error) {
	stem := r.clock.Now().Format(TimestampLayout) + "_" + r.cfg.OutputName
	return r.exporter.Export(context.WithoutCancel(ctx), stem, batches)
}

func (r *Runner) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || r.control.QuitRequested()
}

// waitBetweenJobs sleeps InterQueryDelay in short slices so quit is noticed.
func (r *Runner) waitBetweenJobs(ctx context.Context) bool {
	remaining := r.cfg.InterQueryDelay
	for remaining > 0 {
		if r.stopping(ctx) {
			return false
		}
		step := min(remaining, r.pollEvery)
		if err := r.sleep(ctx, step); err != nil {
			return false
		}
		remaining -= step
	}
	return !r.stopping(ctx)
}

func (r *Runner) newRunID() string {
	if r.ids == nil {
		return r.clock.Now().Format(TimestampLayout)
	}
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("generate run id", zap.Error(err))
		return r.clock.Now().Format(TimestampLayout)
	}
	return id
}

func uniqueJobs(queries []string) []crawler.Job {
	seen := make(map[string]struct{}, len(queries))
	jobs := make([]crawler.Job, 0, len(queries))
	for _, q := range queries {
		job := crawler.NewJob(q)
		if job.Query == "" {
			continue
		}
		if _, ok := seen[job.Slug]; ok {
			continue
		}
		seen[job.Slug] = struct{}{}
		jobs = append(jobs, job)
	}
	return jobs
}
