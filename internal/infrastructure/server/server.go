package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/widgethost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/canvas"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/compute"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/network"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/state"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	manager *canvas.Manager
	store   state.Store
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewWithLevel(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing widget host",
		zap.String("port", cfg.Server.Port),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("widgets_dir", cfg.Widgets.Dir),
	)

	// Metrics first, every component records into them
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("widgethost", logger.Logger)

	// Manifest catalog
	cat := catalog.New(logger.Logger)
	loader := catalog.NewLoader(cat, cfg.Widgets.Dir, logger.Logger)
	loaded, failed, err := loader.Load()
	if err != nil {
		logger.Warn("Failed to load widget manifests", zap.Error(err))
	} else {
		logger.Info("Widget manifests loaded", zap.Int("loaded", loaded), zap.Int("failed", failed))
	}

	// State persistence
	store, err := state.New(cfg.State, logger.Logger)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	persistCfg := state.DefaultPersisterConfig()
	if cfg.State.Debounce > 0 {
		persistCfg.Debounce = cfg.State.Debounce
	}
	persister := state.NewPersister(store, persistCfg, logger.Logger).WithMetrics(metrics)

	// Host operations reachable through the capability gate
	manager := canvas.NewManager(canvas.ConfigFrom(cfg), cat, persister, operations(cfg, logger.Logger, metrics), logger.Logger).
		WithMetrics(metrics).
		WithTracer(tracer)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(manager, loader, apihttp.NewHandlerMetrics(metrics), logger.Logger).
		WithTracer(tracer)
	stream := ws.NewHandler(manager, corsCfg.AllowOrigins, logger.Logger).
		WithMetrics(metrics).
		WithBufferSize(cfg.Server.StreamBuffer)
	registerRoutes(router, handlers, stream, metrics)

	logger.Info("Server initialized successfully")

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	return &Server{
		router: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		manager: manager,
		store:   store,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

var reloadLimit = middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}

func operations(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) []capability.Operation {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := network.DefaultOptions()
	opts.Name = "network-fetch"
	opts.Timeout = cfg.Network.Timeout
	opts.RateLimit = cfg.Network.RateLimit
	opts.OnBreakerChange = func(name string, from, to resilience.State) {
		logger.Warn("Fetch breaker changed state",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		metrics.SetBreakerState(name, int(to))
	}
	fetcher := network.NewFetcher(network.NewClient(opts), cfg.Network.AllowedHosts)

	ops := []capability.Operation{fetcher.Operation()}
	return append(ops, compute.Operations()...)
}

func registerRoutes(router *gin.Engine, h *apihttp.Handlers, stream *ws.Handler, metrics *monitoring.Metrics) {
	router.GET("/health", h.Health)

	// Manifest catalog
	router.GET("/manifests", h.ListManifests)
	router.GET("/manifests/:id", h.GetManifest)
	// Each reload walks the widgets directory
	router.POST("/manifests/reload", middleware.GlobalRateLimit(reloadLimit), h.ReloadManifests)

	// Canvases
	router.GET("/canvases", h.ListCanvases)
	router.POST("/canvases", h.CreateCanvas)
	router.GET("/canvases/:id", h.GetCanvas)
	router.DELETE("/canvases/:id", h.DeleteCanvas)

	// Instances
	router.GET("/canvases/:id/instances", h.ListInstances)
	router.POST("/canvases/:id/instances", h.AddInstance)
	router.GET("/canvases/:id/instances/:iid", h.GetInstance)
	router.DELETE("/canvases/:id/instances/:iid", h.RemoveInstance)
	router.POST("/canvases/:id/instances/:iid/activate", h.ActivateInstance)
	router.POST("/canvases/:id/instances/:iid/deactivate", h.DeactivateInstance)

	// Pipeline edges
	router.GET("/canvases/:id/edges", h.ListEdges)
	router.PUT("/canvases/:id/edges", h.ReplaceEdges)
	router.POST("/canvases/:id/edges", h.AddEdge)
	router.DELETE("/canvases/:id/edges", h.RemoveEdge)

	// Event bus
	router.POST("/canvases/:id/events", h.EmitEvent)
	router.GET("/canvases/:id/stream", stream.HandleConnection)

	router.GET("/traces/:id", h.GetTrace)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler exposes the routed engine
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the canvas manager
func (s *Server) Manager() *canvas.Manager {
	return s.manager
}

// Run serves HTTP until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every canvas, which
// flushes pending state. Later calls return the first call's result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close canvases: %w", err))
	}
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}

	s.tracer.Close()
	s.logger.Sync()
	return errors.Join(errs...)
}
