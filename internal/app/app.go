package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"bootlicense/internal/apiclient"
	"bootlicense/internal/config"
	apierrors "bootlicense/internal/errors"
	"bootlicense/internal/infrastructure"
	"bootlicense/internal/license"
	customMiddleware "bootlicense/internal/middleware"
	"bootlicense/internal/security"
	handlers "bootlicense/internal/transport/http"
	ws "bootlicense/internal/websocket"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Engine        *license.Engine
	Scheduler     *license.Scheduler
	WebSocketHub  *ws.Hub
	Router        *chi.Mux
	Server        *http.Server
}

// Option customises New
type Option func(*options)

type options struct {
	hardware   security.HardwareIDProvider
	httpClient *http.Client
}

// WithHardwareID replaces the machine fingerprint
func WithHardwareID(p security.HardwareIDProvider) Option {
	return func(o *options) { o.hardware = p }
}

// WithHTTPClient replaces the client used to reach the license server
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// NewApplication loads the configuration and logger from the environment
// and builds the application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	return New(cfg, logger)
}

// New wires every component from cfg. The license engine is initialised
// from the local store before New returns, without network access.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Application starting",
		slog.String("name", cfg.License.AppName),
		slog.String("version", cfg.License.AppVersion))

	otelProviders, err := infrastructure.InitializeOTel(
		infrastructure.NewOTelConfig(cfg.Telemetry, cfg.License.AppVersion), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeLicense(o); err != nil {
		return nil, err
	}
	if err := a.initializeWebSocket(); err != nil {
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		return nil, err
	}
	a.createServer()

	return a, nil
}

func (a *Application) initializeLicense(o options) error {
	cfg := a.Config

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	clientOpts := []apiclient.Option{
		apiclient.WithObserver(apiclient.LoggingObserver(infrastructure.WithComponent(a.Logger, "apiclient"))),
		apiclient.WithObserver(metrics.AttemptObserver()),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, apiclient.WithHTTPClient(o.httpClient))
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		MaxAttempts: cfg.API.MaxAttempts,
		Backoff: apiclient.Backoff{
			BaseDelay:  cfg.API.BaseDelay,
			Multiplier: cfg.API.Multiplier,
			MaxDelay:   cfg.API.MaxDelay,
			Jitter:     cfg.API.Jitter,
		},
		BearerToken: cfg.API.BearerToken,
		UserAgent:   cfg.License.UserAgent(),
	}, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create license api client: %w", err)
	}

	hardware := o.hardware
	if hardware == nil {
		hardware = security.NewMachineIdentity(a.Logger)
	}

	store, err := license.NewStore(cfg.License.StorePath, cfg.License.AppSecret, hardware, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create license store: %w", err)
	}

	engine, err := license.NewEngine(license.Options{
		Store:        store,
		Authority:    license.NewRemoteAuthority(client),
		Hardware:     hardware,
		OfflineGrace: cfg.License.OfflineGrace,
		AppVersion:   cfg.License.AppVersion,
		CodeKey:      security.DeriveFernetKey(cfg.License.CodePassword, cfg.License.CodeSalt, security.CodeKDFIterations),
		Metrics:      metrics,
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create license engine: %w", err)
	}

	if err := engine.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize license engine: %w", err)
	}

	a.Logger.Info("License engine initialized",
		slog.String("store_path", store.Path()),
		slog.String("license_state", string(engine.State())),
		slog.Duration("offline_grace", cfg.License.OfflineGrace))

	a.Engine = engine
	a.Scheduler = license.NewScheduler(engine, cfg.License.RevalidationInterval, a.Logger)
	return nil
}

func (a *Application) initializeWebSocket() error {
	metrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}

	a.WebSocketHub = ws.NewHub(a.Logger,
		ws.WithMetrics(metrics),
		ws.WithWelcome(ws.LicenseWelcome(a.Engine)),
	)
	a.Engine.OnTransition(ws.TransitionNotifier(a.WebSocketHub, a.Engine))
	return nil
}

// setupRouter mounts the loopback API. The websocket route sits outside
// the group so no middleware wraps its ResponseWriter.
func (a *Application) setupRouter() error {
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Handle(config.WebSocketEndpoint, ws.NewHandler(a.WebSocketHub, a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(errorHandler.Recoverer)
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		limiter := customMiddleware.NewRateLimiter(
			a.Config.Server.ActivationRPS,
			a.Config.Server.ActivationBurst,
			errorHandler,
			a.Logger,
		)
		licenseHandler := handlers.NewLicenseHandler(handlers.LicenseHandlerOptions{
			Engine:            a.Engine,
			ErrorHandler:      errorHandler,
			Limiter:           limiter,
			ActivationTimeout: activationTimeout(a.Config.API),
			Logger:            a.Logger,
		})
		r.Mount(config.LicenseEndpoint, licenseHandler.Routes())

		health := handlers.NewHealthHandler(a.Engine, a.WebSocketHub, a.Config.License.AppVersion)
		r.Get(config.HealthEndpoint, health.HealthCheck)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

// activationTimeout covers every attempt plus the longest backoff waits
func activationTimeout(cfg config.APIConfig) time.Duration {
	return time.Duration(cfg.MaxAttempts)*(cfg.Timeout+cfg.MaxDelay) + 5*time.Second
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.WebSocketHub.Start(); err != nil {
		ln.Close()
		return err
	}
	revalidation := a.Scheduler.Start(ctx)

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("license_state", string(a.Engine.State())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	if err != nil {
		infrastructure.WithError(a.Logger, err).Error("Application stopped with error")
	}

	revalidation.Stop()
	a.WebSocketHub.Stop()

	// A fresh context: the run context is already done here
	otelCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := a.OTelProviders.Shutdown(otelCtx); shutdownErr != nil {
		a.Logger.Error("Error shutting down OpenTelemetry", slog.String("error", shutdownErr.Error()))
	}

	a.Logger.Info("Application shutdown complete")
	return err
}

func (a *Application) shutdown() error {
	a.Logger.Info("Shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}
