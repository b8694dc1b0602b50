// Package orchestrator drives one crawl job at a time through discovery,
// batched extraction and checkpointing, and sequences jobs for a run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/clock/system"
	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/metrics"
	"github.com/JakeFAU/placecrawler/internal/scheduler"
)

// Attempter resolves a single item, retries included.
type Attempter interface {
	Attempt(ctx context.Context, itemID string) (crawler.Record, error)
}

// Processor runs a backlog in batches; *scheduler.Scheduler implements it.
type Processor interface {
	Process(ctx context.Context, backlog []string, start int, gate scheduler.Gate, task scheduler.Task, fold func(scheduler.Outcome)) (scheduler.StopReason, error)
}

// Config tunes checkpoint cadence and pause polling.
type Config struct {
	// CheckpointInterval is the number of successful items between
	// unconditional checkpoints.
	CheckpointInterval int
	PausePollInterval  time.Duration
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: 5,
		PausePollInterval:  500 * time.Millisecond,
	}
}

// Result describes how a job run ended.
type Result struct {
	Job   crawler.Job
	Phase crawler.Phase
	// State is the final in-memory state; nil if it could not be loaded.
	State   *crawler.State
	Resumed bool
	// Counters cover this run only, not earlier resumed runs.
	Processed int
	Succeeded int
	Failed    int
}

// Status is a live view of the job being processed.
type Status struct {
	Phase    crawler.Phase    `json:"phase"`
	Progress crawler.Progress `json:"progress"`
	Active   bool             `json:"active"`
}

// Orchestrator owns the CrawlState of the active job. Only the goroutine
// calling Run mutates it; extraction tasks return results instead.
type Orchestrator struct {
	store      crawler.CheckpointStore
	discoverer crawler.Discoverer
	processor  Processor
	attempter  Attempter
	control    *control.State
	clock      crawler.Clock
	cfg        Config
	sleep      crawler.SleepFunc
	logger     *zap.Logger

	mu     sync.RWMutex
	status Status
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source.
func WithClock(clock crawler.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSleep replaces the pause-poll sleeper.
func WithSleep(fn crawler.SleepFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger).Named("orchestrator")
	}
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// New wires an Orchestrator. ctl may be shared with a control.Source and the
// HTTP API.
func New(
	store crawler.CheckpointStore,
	discoverer crawler.Discoverer,
	processor Processor,
	attempter Attempter,
	ctl *control.State,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case discoverer == nil:
		return nil, fmt.Errorf("discoverer is required")
	case processor == nil:
		return nil, fmt.Errorf("processor is required")
	case attempter == nil:
		return nil, fmt.Errorf("attempter is required")
	}
	if ctl == nil {
		ctl = &control.State{}
	}
	o := &Orchestrator{
		store:      store,
		discoverer: discoverer,
		processor:  processor,
		attempter:  attempter,
		control:    ctl,
		clock:      system.Clock{},
		cfg:        DefaultConfig(),
		sleep:      crawler.Sleep,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.CheckpointInterval < 1 {
		return nil, fmt.Errorf("checkpoint interval must be >= 1")
	}
	if o.cfg.PausePollInterval <= 0 {
		return nil, fmt.Errorf("pause poll interval must be > 0")
	}
	return o, nil
}

// Status returns a copy of the live job status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) track(state *crawler.State, phase crawler.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = Status{Phase: phase, Progress: crawler.Summarize(state), Active: !phase.Terminal()}
}

// Run drives job to a terminal phase. A loaded, unfinished checkpoint resumes
// at its cursor without re-running discovery. The returned error is non-nil
// only for FAILED jobs.
func (o *Orchestrator) Run(ctx context.Context, job crawler.Job) (res Result, err error) {
	logger := o.logger.With(zap.String("query", job.Query), zap.String("slug", job.Slug))
	res = Result{Job: job}
	var state *crawler.State

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl %q panicked: %v", job.Query, r)
			res.Phase = crawler.PhaseFailed
			if state != nil && len(state.Backlog) > 0 {
				o.checkpoint(ctx, logger, state)
			}
		}
		res.State = state
		if state != nil {
			o.track(state, res.Phase)
		}
		o.report(logger, res, err)
	}()

	state, res.Resumed, err = o.loadOrCreate(ctx, job, logger)
	if err != nil {
		res.Phase = crawler.PhaseFailed
		return res, err
	}
	if state.Completed {
		logger.Info("checkpoint already complete, skipping crawl")
		res.Phase = crawler.PhaseCompleted
		return res, nil
	}

	if len(state.Backlog) == 0 {
		if o.control.QuitRequested() || ctx.Err() != nil {
			res.Phase = crawler.PhaseStopped
			return res, nil
		}
		o.track(state, crawler.PhaseDiscovering)
		if err := o.discover(ctx, state, logger); err != nil {
			if ctx.Err() != nil {
				res.Phase = crawler.PhaseStopped
				return res, nil
			}
			res.Phase = crawler.PhaseFailed
			return res, err
		}
	}

	o.track(state, crawler.PhaseProcessing)
	logger.Info("processing backlog",
		zap.Int("cursor", state.Cursor),
		zap.Int("backlog", len(state.Backlog)),
		zap.Bool("resumed", res.Resumed),
	)

	successesSinceSave := 0
	gate := func(ctx context.Context) bool {
		return o.gate(ctx, state, logger)
	}
	task := func(ctx context.Context, _ int, itemID string) (crawler.Record, error) {
		return o.attempter.Attempt(ctx, itemID)
	}
	fold := func(out scheduler.Outcome) {
		res.Processed++
		if out.Err != nil {
			state.Failed++
			res.Failed++
			metrics.ObserveItem(outcomeLabel(out.Err))
			logger.Warn("item skipped", zap.Int("index", out.Index), zap.String("url", out.ItemID), zap.Error(out.Err))
		} else {
			state.Results = append(state.Results, out.Record)
			res.Succeeded++
			successesSinceSave++
			metrics.ObserveItem(metrics.OutcomeSuccess)
			logger.Debug("item extracted", zap.Int("index", out.Index), zap.String("name", out.Record.Name()))
		}
		// Advance only after the outcome is recorded.
		state.Cursor = out.Index + 1
		o.track(state, crawler.PhaseProcessing)
		if successesSinceSave >= o.cfg.CheckpointInterval {
			o.checkpoint(ctx, logger, state)
			successesSinceSave = 0
		}
	}

	reason, perr := o.processor.Process(ctx, state.Backlog, state.Cursor, gate, task, fold)
	if perr != nil && reason != scheduler.StopCanceled {
		res.Phase = crawler.PhaseFailed
		o.checkpoint(ctx, logger, state)
		return res, fmt.Errorf("process backlog: %w", perr)
	}

	if reason == scheduler.StopExhausted {
		state.Completed = true
		o.checkpoint(ctx, logger, state)
		res.Phase = crawler.PhaseCompleted
		return res, nil
	}
	o.checkpoint(ctx, logger, state)
	res.Phase = crawler.PhaseStopped
	return res, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, job crawler.Job, logger *zap.Logger) (*crawler.State, bool, error) {
	state, err := o.store.Load(ctx, job.Slug)
	switch {
	case err == nil:
		if state.Query != job.Query {
			logger.Warn("checkpoint was written for a different query with the same slug", zap.String("stored_query", state.Query))
		}
		return state, true, nil
	case errors.Is(err, crawler.ErrCheckpointNotFound):
		return crawler.NewState(job, o.clock.Now()), false, nil
	case crawler.IsCheckpointAbsent(err):
		logger.Warn("ignoring unreadable checkpoint, starting fresh", zap.Error(err))
		return crawler.NewState(job, o.clock.Now()), false, nil
	default:
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}
}

func (o *Orchestrator) discover(ctx context.Context, state *crawler.State, logger *zap.Logger) error {
	logger.Info("discovering items")
	ids, err := o.discoverer.Discover(ctx, state.Query)
	if err != nil {
		return &crawler.DiscoveryError{Query: state.Query, Err: err}
	}
	ids = dedupe(ids)
	metrics.ObserveDiscovered(len(ids))
	if len(ids) == 0 {
		return &crawler.DiscoveryError{Query: state.Query, Err: crawler.ErrNoItems}
	}
	state.Backlog = ids
	state.Cursor = 0
	logger.Info("discovery finished", zap.Int("items", len(ids)))
	o.checkpoint(ctx, logger, state)
	return nil
}

// gate runs on the Run goroutine before every launch.
func (o *Orchestrator) gate(ctx context.Context, state *crawler.State, logger *zap.Logger) bool {
	pausedLogged := false
	for {
		if ctx.Err() != nil || o.control.QuitRequested() {
			return false
		}
		if o.control.TakeSave() {
			logger.Info("save requested")
			o.checkpoint(ctx, logger, state)
		}
		if !o.control.Paused() {
			if pausedLogged {
				logger.Info("resumed")
				o.track(state, crawler.PhaseProcessing)
			}
			return true
		}
		if !pausedLogged {
			logger.Info("paused; waiting for resume", zap.Int("cursor", state.Cursor))
			o.track(state, crawler.PhasePaused)
			pausedLogged = true
		}
		if err := o.sleep(ctx, o.cfg.PausePollInterval); err != nil {
			return false
		}
	}
}

// checkpoint saves state, retrying once. Saves ignore cancellation so a
// hard stop still persists progress.
func (o *Orchestrator) checkpoint(ctx context.Context, logger *zap.Logger, state *crawler.State) bool {
	saveCtx := context.WithoutCancel(ctx)
	previous := state.LastCheckpoint
	state.LastCheckpoint = o.clock.Now()

	err := o.store.Save(saveCtx, state)
	if err != nil {
		logger.Warn("checkpoint failed, retrying once", zap.Error(err))
		err = o.store.Save(saveCtx, state)
	}
	metrics.ObserveCheckpoint(err == nil)
	if err != nil {
		state.LastCheckpoint = previous
		logger.Error("checkpoint skipped; items since the last save may be redone on resume",
			zap.Int("cursor", state.Cursor),
			zap.Error(err),
		)
		return false
	}
	logger.Debug("checkpoint saved",
		zap.Int("cursor", state.Cursor),
		zap.Int("results", len(state.Results)),
		zap.Bool("completed", state.Completed),
	)
	return true
}

func (o *Orchestrator) report(logger *zap.Logger, res Result, err error) {
	metrics.ObserveJob(string(res.Phase))
	cursor, backlog, results := 0, 0, 0
	if res.State != nil {
		cursor, backlog, results = res.State.Cursor, len(res.State.Backlog), len(res.State.Results)
	}
	fields := []zap.Field{
		zap.String("phase", string(res.Phase)),
		zap.Int("cursor", cursor),
		zap.Int("backlog", backlog),
		zap.Int("results", results),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	}
	switch res.Phase {
	case crawler.PhaseCompleted:
		logger.Info("crawl completed; checkpoint is removed once results are exported", fields...)
	case crawler.PhaseStopped:
		logger.Warn("crawl stopped; run the same query again to resume",
			append(fields, zap.String("resume_at", fmt.Sprintf("item %d of %d", cursor, backlog)))...)
	default:
		hint := "run the same query again to retry"
		if backlog > 0 {
			hint = fmt.Sprintf("run the same query again to resume at item %d of %d", cursor, backlog)
		}
		logger.Error("crawl failed", append(fields, zap.String("resume", hint), zap.Error(err))...)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, crawler.ErrRetriesExhausted):
		return metrics.OutcomeExhausted
	case errors.Is(err, crawler.ErrInterrupted):
		return metrics.OutcomeInterrupted
	default:
		return metrics.OutcomePermanent
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
