package control

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/logging"
)

// Source feeds a State from operator input lines and OS signals.
type Source struct {
	state   *State
	input   io.Reader
	signals []os.Signal
	force   context.CancelFunc
	logger  *zap.Logger

	notify func(chan<- os.Signal, ...os.Signal)
	stop   func(chan<- os.Signal)
}

// SourceOption customizes a Source.
type SourceOption func(*Source)

// WithInput reads intents line by line from r (usually os.Stdin).
func WithInput(r io.Reader) SourceOption {
	return func(s *Source) { s.input = r }
}

// WithSignals overrides the handled termination signals.
func WithSignals(sigs ...os.Signal) SourceOption {
	return func(s *Source) { s.signals = sigs }
}

// WithForce installs a cancel func invoked on the second termination signal,
// aborting in-flight work instead of waiting for it.
func WithForce(cancel context.CancelFunc) SourceOption {
	return func(s *Source) { s.force = cancel }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(logger *zap.Logger) SourceOption {
	return func(s *Source) { s.logger = logging.OrNop(logger).Named("control") }
}

// NewSource builds a Source bound to state.
func NewSource(state *State, opts ...SourceOption) *Source {
	s := &Source{
		state:   state,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		logger:  zap.NewNop(),
		notify:  signal.Notify,
		stop:    signal.Stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching in background goroutines and returns immediately.
// Signal handling ends when ctx is done. Input reading ends at EOF.
func (s *Source) Start(ctx context.Context) {
	if len(s.signals) > 0 {
		ch := make(chan os.Signal, 2)
		s.notify(ch, s.signals...)
		go s.watchSignals(ctx, ch)
	}
	if s.input != nil {
		go s.readInput(ctx)
	}
}

func (s *Source) watchSignals(ctx context.Context, ch chan os.Signal) {
	defer s.stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s.HandleSignal(sig)
		}
	}
}

// HandleSignal applies one termination signal. The first sets the quit flag;
// later ones trigger the force cancel when configured.
func (s *Source) HandleSignal(sig os.Signal) {
	if s.state.RequestQuit() {
		s.logger.Warn("termination signal received, finishing in-flight items", zap.Stringer("signal", sig))
		return
	}
	if s.force != nil {
		s.logger.Warn("second termination signal, aborting in-flight items", zap.Stringer("signal", sig))
		s.force()
	}
}

func (s *Source) readInput(ctx context.Context) {
	scanner := bufio.NewScanner(s.input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		intent, err := ParseIntent(line)
		if err != nil {
			s.logger.Info("ignoring input; use p(ause) r(esume) s(ave) q(uit)", zap.String("input", line))
			continue
		}
		_ = s.state.Apply(intent)
		snap := s.state.Snapshot()
		s.logger.Info("control intent applied",
			zap.String("intent", string(intent)),
			zap.Bool("paused", snap.Paused),
			zap.Bool("quit", snap.QuitRequested),
		)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("control input closed", zap.Error(err))
	}
}
