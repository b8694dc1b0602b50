// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/api"
	"github.com/JakeFAU/placecrawler/internal/browser"
	"github.com/JakeFAU/placecrawler/internal/clock/system"
	"github.com/JakeFAU/placecrawler/internal/config"
	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/export"
	"github.com/JakeFAU/placecrawler/internal/id/uuid"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
	pubsubpublisher "github.com/JakeFAU/placecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/placecrawler/internal/retry"
	"github.com/JakeFAU/placecrawler/internal/scheduler"
	"github.com/JakeFAU/placecrawler/internal/storage/gcs"
	"github.com/JakeFAU/placecrawler/internal/storage/local"
	"github.com/JakeFAU/placecrawler/internal/storage/memory"
	"github.com/JakeFAU/placecrawler/internal/storage/postgres"
)

// App holds the shared, long-lived services for one process. It is built
// once at startup and closed when the command finishes.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Control      *control.State
	Store        crawler.CheckpointStore
	Session      *browser.Session
	Orchestrator *orchestrator.Orchestrator
	Runner       *orchestrator.Runner
	// API is nil unless control.addr is set.
	API *api.Server

	closers []func() error
}

type options struct {
	logger        *zap.Logger
	storageClient *gcstorage.Client
	pubsubClient  *pubsub.Client
	store         crawler.CheckpointStore
	discoverer    crawler.Discoverer
	extractor     crawler.Extractor
}

// Option customizes New.
type Option func(*options)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStorageClient supplies the GCS client used for exports. The caller
// keeps ownership.
func WithStorageClient(client *gcstorage.Client) Option {
	return func(o *options) { o.storageClient = client }
}

// WithPubSubClient supplies the Pub/Sub client used for job events. The
// caller keeps ownership.
func WithPubSubClient(client *pubsub.Client) Option {
	return func(o *options) { o.pubsubClient = client }
}

// WithCheckpointStore overrides the configured checkpoint backend.
func WithCheckpointStore(store crawler.CheckpointStore) Option {
	return func(o *options) { o.store = store }
}

// WithBrowser replaces the chromedp session for discovery and extraction.
func WithBrowser(d crawler.Discoverer, e crawler.Extractor) Option {
	return func(o *options) {
		o.discoverer = d
		o.extractor = e
	}
}

// New creates and initializes an App from cfg. It fails fast when any
// required service cannot be built, releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Control: &control.State{}}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	if o.logger != nil {
		a.Logger = o.logger
	} else {
		logger, lerr := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if lerr != nil {
			return nil, lerr
		}
		a.Logger = logger
		a.closers = append(a.closers, func() error {
			_ = logger.Sync()
			return nil
		})
	}
	l := a.Logger
	l.Info("initializing application services")

	var err error
	if a.Store, err = a.checkpointStore(ctx, o); err != nil {
		return nil, err
	}

	discoverer, extractor := o.discoverer, o.extractor
	if discoverer == nil || extractor == nil {
		session, serr := browser.NewSession(cfg.BrowserConfig(), browser.WithLogger(l))
		if serr != nil {
			return nil, fmt.Errorf("init browser: %w", serr)
		}
		a.Session = session
		a.closers = append(a.closers, session.Close)
		discoverer, extractor = session, session
	}

	policy, err := retry.New(extractor, cfg.RetryConfig(), retry.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("init retry policy: %w", err)
	}
	sched, err := scheduler.New(cfg.SchedulerConfig(), scheduler.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	a.Orchestrator, err = orchestrator.New(a.Store, discoverer, sched, policy, a.Control,
		orchestrator.WithConfig(cfg.OrchestratorConfig()),
		orchestrator.WithLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	exporter, err := a.exporter(ctx, o)
	if err != nil {
		return nil, err
	}

	clock, err := system.In(cfg.Browser.Timezone)
	if err != nil {
		l.Warn("falling back to UTC export stamps", zap.Error(err))
	}
	runnerOpts := []orchestrator.RunnerOption{
		orchestrator.WithIDGenerator(uuid.New(uuid.RunPrefix)),
		orchestrator.WithRunnerClock(clock),
		orchestrator.WithRunnerLogger(l),
	}
	publisher, err := a.publisher(ctx, o)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		runnerOpts = append(runnerOpts, orchestrator.WithPublisher(publisher))
	}
	a.Runner, err = orchestrator.NewRunner(a.Orchestrator, a.Store, exporter, a.Control, cfg.RunnerConfig(), runnerOpts...)
	if err != nil {
		return nil, fmt.Errorf("init runner: %w", err)
	}

	if cfg.Control.Addr != "" {
		a.API, err = api.NewServer(a.Store, a.Control,
			api.WithAPIKey(cfg.Control.APIKey),
			api.WithStatus(a.Orchestrator),
			api.WithLogger(l),
		)
		if err != nil {
			return nil, fmt.Errorf("init api: %w", err)
		}
	}

	l.Info("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.Strings("export_formats", cfg.Export.Formats),
		zap.Bool("notify", publisher != nil),
		zap.Bool("api", a.API != nil),
	)
	ready = true
	return a, nil
}

func (a *App) checkpointStore(ctx context.Context, o options) (crawler.CheckpointStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	cfg := a.Config.Checkpoint
	switch cfg.Backend {
	case config.BackendMemory:
		a.Logger.Warn("using in-memory checkpoints; progress will not survive a restart")
		return memory.NewCheckpointStore(), nil
	case config.BackendPostgres:
		a.Logger.Info("connecting to postgres checkpoint store", zap.String("table", cfg.Postgres.Table))
		store, err := postgres.NewCheckpointStore(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		if cfg.Postgres.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("init checkpoint store: %w", err)
			}
		}
		return store, nil
	case config.BackendLocal:
		store, err := local.NewCheckpointStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.Backend)
	}
}

func (a *App) exporter(ctx context.Context, o options) (crawler.Exporter, error) {
	cfg := a.Config.Export
	encoders, err := export.Encoders(cfg.Formats)
	if err != nil {
		return nil, fmt.Errorf("init exporter: %w", err)
	}
	dir, err := local.New(local.Config{BaseDir: cfg.Dir})
	if err != nil {
		return nil, fmt.Errorf("init export dir: %w", err)
	}
	files, err := export.New(dir, encoders, export.WithLogger(a.Logger))
	if err != nil {
		return nil, fmt.Errorf("init exporter: %w", err)
	}
	if cfg.GCSBucket == "" {
		return files, nil
	}

	client := o.storageClient
	if client == nil {
		client, err = gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
	}
	bucket, err := gcs.New(client, gcs.Config{
		Bucket:   cfg.GCSBucket,
		Prefix:   cfg.GCSPrefix,
		Metadata: map[string]string{"generator": "placecrawler"},
	})
	if err != nil {
		return nil, fmt.Errorf("init gcs exporter: %w", err)
	}
	uploads, err := export.New(bucket, encoders, export.WithLogger(a.Logger))
	if err != nil {
		return nil, fmt.Errorf("init gcs exporter: %w", err)
	}
	a.Logger.Info("exports will be uploaded", zap.String("bucket", cfg.GCSBucket))
	return export.Multi{files, uploads}, nil
}

func (a *App) publisher(ctx context.Context, o options) (crawler.Publisher, error) {
	cfg := a.Config.Notify
	if !cfg.Enabled() {
		return nil, nil
	}
	client := o.pubsubClient
	if client == nil {
		var err error
		client, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.Logger.Info("publishing job events", zap.String("topic", cfg.Topic))
	return pub, nil
}

// Source builds the control source feeding a.Control. in is read for line
// commands when control.stdin is enabled; force aborts in-flight work on a
// second termination signal.
func (a *App) Source(in io.Reader, force context.CancelFunc) *control.Source {
	opts := []control.SourceOption{control.WithSourceLogger(a.Logger)}
	if a.Config.Control.Stdin && in != nil {
		opts = append(opts, control.WithInput(in))
	}
	if force != nil {
		opts = append(opts, control.WithForce(force))
	}
	return control.NewSource(a.Control, opts...)
}

// ServeAPI runs the operator API until ctx ends. It returns immediately
// when no address is configured.
func (a *App) ServeAPI(ctx context.Context) error {
	if a.API == nil {
		return nil
	}
	return a.API.ListenAndServe(ctx, a.Config.Control.Addr)
}

// Close shuts services down in reverse construction order.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
