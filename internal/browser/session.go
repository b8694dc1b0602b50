// Package browser drives headless Chrome to discover and extract map-search
// listings.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
)

// DefaultSearchURL is the map-search endpoint queries are appended to.
const DefaultSearchURL = "https://www.google.com/maps/search/"

// Config controls the browser session.
type Config struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	Locale       string
	Timezone     string
	WindowWidth  int
	WindowHeight int

	SearchURL    string
	FeedTimeout  time.Duration
	ScrollRounds int
	ScrollPause  time.Duration
	StallRounds  int
	MaxItems     int

	NameWait time.Duration
	Settle   time.Duration
}

// DefaultConfig returns settings tuned for Vietnamese map listings.
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Locale:       "vi-VN",
		Timezone:     "Asia/Ho_Chi_Minh",
		WindowWidth:  1920,
		WindowHeight: 1080,
		SearchURL:    DefaultSearchURL,
		FeedTimeout:  10 * time.Second,
		ScrollRounds: 10,
		ScrollPause:  1500 * time.Millisecond,
		StallRounds:  3,
		MaxItems:     30,
		NameWait:     8 * time.Second,
		Settle:       time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.WindowWidth <= 0 || c.WindowHeight <= 0:
		return fmt.Errorf("window size must be positive")
	case c.SearchURL == "":
		return fmt.Errorf("search url is required")
	case c.ScrollRounds < 0:
		return fmt.Errorf("scroll rounds must be >= 0")
	case c.StallRounds <= 0:
		return fmt.Errorf("stall rounds must be > 0")
	case c.MaxItems < 0:
		return fmt.Errorf("max items must be >= 0")
	case c.FeedTimeout <= 0:
		return fmt.Errorf("feed timeout must be > 0")
	}
	return nil
}

// Session owns one Chrome process. Discovery and every extraction handle run
// in their own tab of that process.
type Session struct {
	cfg    Config
	logger *zap.Logger
	sleep  crawler.SleepFunc

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logging.OrNop(logger).Named("browser")
	}
}

// WithSleep replaces the scroll pause sleeper.
func WithSleep(fn crawler.SleepFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewSession prepares a browser session. Chrome is not launched until Start
// or the first tab is needed.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  crawler.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	return s, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Locale))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Start launches Chrome. It is safe to call more than once.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		launched := make(chan error, 1)
		go func() { launched <- chromedp.Run(s.browserCtx) }()
		select {
		case err := <-launched:
			if err != nil {
				s.startErr = fmt.Errorf("launch browser: %w", err)
			}
		case <-ctx.Done():
			s.startErr = fmt.Errorf("launch browser: %w", ctx.Err())
		}
		if s.startErr == nil {
			s.logger.Info("browser started", zap.Bool("headless", s.cfg.Headless))
		}
	})
	return s.startErr
}

// Close shuts down Chrome and every open tab.
func (s *Session) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

// newTab opens a tab whose lifetime is also bounded by ctx.
func (s *Session) newTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.Start(ctx); err != nil {
		return nil, nil, err
	}
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	if err := chromedp.Run(tabCtx, s.emulationAction()); err != nil {
		stop()
		cancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}
	return tabCtx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Session) emulationAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(s.cfg.UserAgent)
			if s.cfg.Locale != "" {
				override = override.WithAcceptLanguage(s.cfg.Locale)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(s.cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if s.cfg.Timezone != "" {
			if err := emulation.SetTimezoneOverride(s.cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		return nil
	})
}
