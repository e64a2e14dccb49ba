// Package server builds the application's dependency graph and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/api"
	"github.com/JakeFAU/pagesnap/internal/assets"
	gcsassets "github.com/JakeFAU/pagesnap/internal/assets/gcs"
	localassets "github.com/JakeFAU/pagesnap/internal/assets/local"
	memoryassets "github.com/JakeFAU/pagesnap/internal/assets/memory"
	"github.com/JakeFAU/pagesnap/internal/capture"
	"github.com/JakeFAU/pagesnap/internal/clock/system"
	"github.com/JakeFAU/pagesnap/internal/config"
	"github.com/JakeFAU/pagesnap/internal/engine/headless"
	"github.com/JakeFAU/pagesnap/internal/engine/renderapi"
	"github.com/JakeFAU/pagesnap/internal/id/uuid"
	"github.com/JakeFAU/pagesnap/internal/logging"
	"github.com/JakeFAU/pagesnap/internal/metrics"
	gcppublisher "github.com/JakeFAU/pagesnap/internal/publisher/pubsub"
	"github.com/JakeFAU/pagesnap/internal/snapshot"
	pgstore "github.com/JakeFAU/pagesnap/internal/storage/postgres"
	"github.com/JakeFAU/pagesnap/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	service    *snapshot.Service
	apiServer  *api.Server
	storage    *storage.Client
	captureLog *pgstore.CaptureLog
	publisher  *gcppublisher.Publisher
	tracer     *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, "pagesnap")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracer = tp
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("assets_backend", cfg.Assets.Backend),
		zap.Bool("fallback_configured", cfg.Fallback.Configured()),
	)

	orchestrator, err := setupEngines(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	ids := uuid.New()
	store, err := setupAssets(ctx, app, ids)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err := setupDatabase(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err := setupPublisher(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	deps := snapshot.Deps{
		Orchestrator: orchestrator,
		Store:        store,
		Clock:        system.New(),
		IDs:          ids,
		Logger:       logger.Named("snapshot"),
	}
	if app.captureLog != nil {
		deps.Recorder = app.captureLog
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
		deps.Topic = cfg.PubSub.TopicName
	}
	app.service, err = snapshot.New(deps)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("snapshot service init failed: %w", err)
	}

	readiness := map[string]api.ReadinessCheck{}
	if app.captureLog != nil {
		readiness["postgres"] = app.captureLog.Ping
	}
	app.apiServer = api.NewServer(app.service, api.Options{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
		Readiness:      readiness,
		RequestIDs:     ids,
	}, logger.Named("api"))

	return app, nil
}

// Service exposes the capture pipeline to the CLI.
func (a *App) Service() api.Screenshotter {
	return a.service
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until the context is canceled or a signal arrives.
// Callers release resources with Close.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes the logger.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.captureLog != nil {
		a.captureLog.Close()
		a.captureLog = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}

func setupEngines(app *App) (*capture.Orchestrator, error) {
	cfg := app.cfg
	primary, err := headless.New(headless.Config{
		ExecPath:          cfg.Capture.ChromePath,
		UserAgent:         cfg.Capture.UserAgent,
		NavigationTimeout: cfg.Capture.NavigationTimeout(),
		SettleDelay:       cfg.Capture.SettleDelay(),
		DeviceScale:       cfg.Capture.DeviceScale,
	}, app.logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("headless engine init failed: %w", err)
	}

	fallback, err := renderapi.New(renderapi.Config{
		Endpoint:         cfg.Fallback.Endpoint,
		APIKey:           cfg.Fallback.APIKey,
		Timeout:          cfg.Fallback.Timeout(),
		MaxDownloadBytes: cfg.Fallback.MaxDownloadBytes,
		DeviceScale:      cfg.Capture.DeviceScale,
	}, nil, app.logger.Named("renderapi"))
	if err != nil {
		return nil, fmt.Errorf("render api engine init failed: %w", err)
	}
	if cfg.Fallback.Configured() {
		app.logger.Info("fallback engine configured", zap.String("endpoint", cfg.Fallback.Endpoint))
	} else {
		app.logger.Warn("render api endpoint or key not configured; fallback captures will fail with missing_credential")
	}

	defaults, err := capture.NewOptions(capture.OptionsInput{
		Width:    &cfg.Capture.Width,
		Height:   &cfg.Capture.Height,
		FullPage: &cfg.Capture.FullPage,
		Quality:  &cfg.Capture.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture defaults: %w", err)
	}

	orchestrator, err := capture.NewOrchestrator(primary, fallback, app.logger.Named("orchestrator"),
		capture.WithDefaultOptions(defaults))
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orchestrator, nil
}

func setupAssets(ctx context.Context, app *App, ids assets.IDGenerator) (assets.Store, error) {
	cfg := app.cfg.Assets
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS asset backend", zap.String("bucket", cfg.Bucket))
		client, err := gcsassets.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsassets.New(client, gcsassets.Config{
			Bucket:         cfg.Bucket,
			Folder:         cfg.Folder,
			PublicBaseURL:  cfg.PublicBaseURL,
			PreviewBaseURL: cfg.PreviewBaseURL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs asset store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		app.logger.Info("using local asset backend", zap.String("path", cfg.LocalDir))
		store, err := localassets.New(localassets.Config{
			BaseDir:        cfg.LocalDir,
			Folder:         cfg.Folder,
			PublicBaseURL:  cfg.PublicBaseURL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("local asset store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory asset backend")
		return memoryassets.New(memoryassets.Config{
			Folder:         cfg.Folder,
			BaseURL:        cfg.PublicBaseURL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}, ids), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Warn("no database dsn configured, capture log disabled")
		return nil
	}
	captureLog, err := pgstore.NewCaptureLog(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("capture log init failed: %w", err)
	}
	app.captureLog = captureLog
	app.logger.Info("capture log initialized", zap.String("table", cfg.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	cfg := app.cfg.PubSub
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		app.logger.Warn("no Pub/Sub topic configured, capture notifications disabled")
		return nil
	}
	client, err := gcppublisher.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return nil
}
