// Package app builds the long-lived harvester services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/api"
	"github.com/JakeFAU/paper-harvester/internal/clock/system"
	"github.com/JakeFAU/paper-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/paper-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/paper-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/harvest/flatlist"
	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
	"github.com/JakeFAU/paper-harvester/internal/id/uuid"
	"github.com/JakeFAU/paper-harvester/internal/ingest"
	"github.com/JakeFAU/paper-harvester/internal/logging"
	"github.com/JakeFAU/paper-harvester/internal/paper"
	memorypublisher "github.com/JakeFAU/paper-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/paper-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/paper-harvester/internal/telemetry"
	gcsstorage "github.com/JakeFAU/paper-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/paper-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/paper-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/paper-harvester/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	tracer *sdktrace.TracerProvider

	store         paper.Store
	pgStore       *pgstore.PaperStore
	blobs         paper.BlobStore
	filesDir      string
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	publisher     paper.Publisher
	fetcher       *collyfetcher.Fetcher
	browser       tree.Browser

	coordinator *harvest.Coordinator
	apiServer   *api.Server
}

// Overrides replaces selected dependencies, mostly for tests.
type Overrides struct {
	Store     paper.Store
	BlobStore paper.BlobStore
	Publisher paper.Publisher
	Browser   tree.Browser
}

// Build creates the application's dependencies. Jobs started through the
// returned App inherit ctx, so canceling it aborts a running harvest.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return BuildWith(ctx, cfg, logger, Overrides{})
}

// BuildWith is Build with some dependencies supplied by the caller.
func BuildWith(ctx context.Context, cfg config.Config, logger *zap.Logger, o Overrides) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	clock := system.New()
	ids := uuid.New()

	steps := []func() error{
		func() error { return a.setupTracing(ctx) },
		func() error { return a.setupStore(ctx, o.Store, ids, clock) },
		func() error { return a.setupBlobStore(ctx, o.BlobStore) },
		func() error { return a.setupPublisher(ctx, o.Publisher) },
		func() error { return a.setupFetchers(o.Browser) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			a.Close(context.Background())
			return nil, err
		}
	}

	a.setupCoordinator(ctx, clock)
	a.apiServer = api.NewServer(a.coordinator, a.store, api.Options{
		APIKey:         a.apiKey(),
		RequestTimeout: cfg.RequestTimeout(),
		FilesDir:       a.filesDir,
		DefaultUpload:  cfg.Storage.Upload,
	}, logger.Named("api"))
	return a, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	return nil
}

func (a *App) setupStore(ctx context.Context, override paper.Store, ids paper.IDGenerator, clock paper.Clock) error {
	if override != nil {
		a.store = override
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory paper store")
		a.store = memorystorage.NewPaperStore(ids, clock)
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	}, ids, clock)
	if err != nil {
		return fmt.Errorf("paper store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("paper store schema failed: %w", err)
	}
	a.logger.Info("postgres paper store initialized", zap.String("table", a.cfg.DB.Table))
	a.store = store
	return nil
}

func (a *App) setupBlobStore(ctx context.Context, override paper.BlobStore) error {
	if override != nil {
		a.blobs = override
		return nil
	}
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.storageClient, gcsstorage.Config{
			Bucket:     a.cfg.Storage.GCSBucket,
			PublicURLs: a.cfg.Storage.GCSPublicURLs,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		local, lerr := localstorage.New(localstorage.Config{
			BaseDir:       a.cfg.Storage.LocalDir,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if lerr != nil {
			return fmt.Errorf("local blob store init failed: %w", lerr)
		}
		a.blobs = local
		if a.cfg.Storage.PublicBaseURL != "" {
			a.filesDir = local.Dir()
		}
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context, override paper.Publisher) error {
	if override != nil {
		a.publisher = override
		return nil
	}
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient)
	a.publisher = a.gcpPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupFetchers(override tree.Browser) error {
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Harvest.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.HTTPTimeout(),
		MaxBodySize:   a.cfg.HTTP.MaxBodyMB << 20,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Harvest.UserAgent))

	switch {
	case override != nil:
		a.browser = override
	case a.cfg.Headless.Enabled:
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         a.cfg.Harvest.UserAgent,
			NavigationTimeout: config.Seconds(a.cfg.Headless.NavTimeoutSeconds),
			PollInterval:      config.Milliseconds(a.cfg.Headless.PollIntervalMs),
		})
		if err != nil {
			return fmt.Errorf("headless browser init failed: %w", err)
		}
		a.browser = browser
		a.logger.Info("using headless browser",
			zap.Int("nav_timeout_seconds", a.cfg.Headless.NavTimeoutSeconds))
	default:
		a.logger.Warn("headless browser disabled, portal2 harvests will fail")
		a.browser = headlessfetcher.NewNoop()
	}
	return nil
}

func (a *App) setupCoordinator(ctx context.Context, clock paper.Clock) {
	harvesters := make(map[paper.Source]harvest.Harvester, 2)

	if url := a.cfg.Sources.Portal1.URL; url != "" {
		harvesters[paper.SourcePortal1] = flatlist.New(a.fetcher, flatlist.Config{
			URL:            url,
			Source:         paper.SourcePortal1,
			DefaultWorkers: a.cfg.Harvest.DefaultWorkers,
			BatchDelay:     a.cfg.BatchDelay(),
		}, a.logger.Named(string(paper.SourcePortal1)))
	} else {
		a.logger.Warn("sources.portal1.url not set, portal1 disabled")
	}

	if url := a.cfg.Sources.Portal2.URL; url != "" {
		backoff := config.Milliseconds(a.cfg.Tree.RetryBackoffMs)
		harvesters[paper.SourcePortal2] = tree.New(a.browser, tree.Config{
			URL:          url,
			Source:       paper.SourcePortal2,
			MaxSiblings:  a.cfg.Tree.MaxSiblings,
			SkipFolders:  a.cfg.Tree.SkipFolders,
			Retry:        harvest.NewRetryPolicy(a.cfg.Tree.RetryAttempts, backoff, 4*backoff),
			ReadyTimeout: config.Seconds(a.cfg.Headless.ReadyTimeoutSeconds),
			Settle:       config.Milliseconds(a.cfg.Tree.SettleMs),

			UnwindTimeout: config.Milliseconds(a.cfg.Tree.UnwindMs),
		}, a.logger.Named(string(paper.SourcePortal2)))
	} else {
		a.logger.Warn("sources.portal2.url not set, portal2 disabled")
	}

	sink := ingest.NewService(a.store, a.blobs, a.fetcher, a.publisher, clock, ingest.Config{
		Prefix: a.cfg.Storage.Prefix,
		Topic:  a.cfg.PubSub.TopicName,
	}, a.logger.Named("ingest"))

	retryDelay := config.Milliseconds(a.cfg.Harvest.IngestRetryDelayMs)
	a.coordinator = harvest.NewCoordinator(
		ctx,
		harvesters,
		harvest.NewGate(a.store),
		sink,
		harvest.NewTracker(clock),
		harvest.Config{
			DefaultWorkers: a.cfg.Harvest.DefaultWorkers,
			IngestRetry:    harvest.NewRetryPolicy(a.cfg.Harvest.IngestRetryAttempts, retryDelay, 4*retryDelay),
		},
		a.logger.Named("coordinator"),
	)
}

func (a *App) apiKey() string {
	if !a.cfg.Auth.Enabled {
		return ""
	}
	return a.cfg.Auth.APIKey
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Coordinator returns the harvest coordinator.
func (a *App) Coordinator() *harvest.Coordinator {
	return a.coordinator
}

// Store returns the paper store.
func (a *App) Store() paper.Store {
	return a.store
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API until ctx is canceled, then drains the running
// job and shuts the server down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.drain(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// RunOnce starts a single harvest job, waits for it and returns the final
// status. Canceling ctx requests a stop and still waits for the unwind.
func (a *App) RunOnce(ctx context.Context, req harvest.Request) (harvest.Status, error) {
	if err := a.coordinator.StartJob(req); err != nil {
		return harvest.Status{}, fmt.Errorf("start job: %w", err)
	}
	done := make(chan struct{})
	go func() {
		a.coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Info("interrupt received, stopping harvest")
		_ = a.coordinator.RequestStop()
		<-done
	}
	return a.coordinator.Status(), nil
}

func (a *App) drain(ctx context.Context) {
	if err := a.coordinator.RequestStop(); err != nil && !errors.Is(err, harvest.ErrNotRunning) {
		a.logger.Warn("stop request failed", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		a.coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("harvest did not stop before shutdown deadline")
	}
}

// Close releases the clients and pools held by the App.
func (a *App) Close(ctx context.Context) {
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
