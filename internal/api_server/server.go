package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocrbench/pipeline/internal/activity"
	"github.com/ocrbench/pipeline/internal/config"
	"github.com/ocrbench/pipeline/internal/discovery"
	"github.com/ocrbench/pipeline/internal/events"
	handlers "github.com/ocrbench/pipeline/internal/handlers/v1alpha1"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/service"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/pkg/metrics"
	"github.com/ocrbench/pipeline/pkg/middleware"
	"github.com/ocrbench/pipeline/pkg/requestid"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg       *config.Config
	store     store.Store
	listener  net.Listener
	scheduler *runtime.Scheduler
	eventLog  *events.Log
	scanner   *discovery.Scanner
}

// New returns a new instance of the pipeline api server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	scheduler *runtime.Scheduler,
	eventLog *events.Log,
	scanner *discovery.Scanner,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		listener:  listener,
		scheduler: scheduler,
		eventLog:  eventLog,
		scanner:   scanner,
	}
}

// Handler builds the router with the full middleware chain and every route mounted under /api.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	if err := metricMiddleware.Register(prometheus.DefaultRegisterer); err != nil {
		zap.S().Named("api_server").Warnw("http metrics not registered", "error", err)
	}

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.AllowedOrigins,
			AllowedMethods:   []string{"GET", "PUT", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Content-Disposition", requestid.Header},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	h := handlers.NewServiceHandler(
		s.scanner,
		service.NewPageService(s.store, s.cfg.Discovery.SourceDir, s.cfg.Discovery.AllowedExtensions),
		service.NewLayoutService(s.store, lifecycle.NewPageTracker(s.store), s.eventLog),
		service.NewPipelineService(s.store, s.scheduler, s.eventLog),
		service.NewReportService(s.store),
		activity.NewService(s.store, s.eventLog, s.scheduler, activity.WithHeartbeat(s.cfg.Pipeline.HeartbeatInterval)),
	)
	router.Route("/api", h.Routes)

	return router
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	// Request contexts derive from ctx so live feeds end when shutdown starts.
	srv := http.Server{
		Addr:              s.cfg.Service.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
