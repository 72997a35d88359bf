package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	httpRequestsTotal          = "http_requests_total"
	httpRequestDurationSeconds = "http_request_duration_seconds"

	codeLabel    = "code"
	methodLabel  = "method"
	routeLabel   = "route"
	unknownRoute = "unmatched"
)

// Middleware counts API requests and observes their latency by route pattern,
// so /api/pages/{page_id} stays one series no matter how many pages exist.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMiddleware(service string) *Middleware {
	labels := []string{codeLabel, methodLabel, routeLabel}
	return &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem:   ocrPipeline,
			Name:        httpRequestsTotal,
			Help:        "number of HTTP requests partitioned by status code, method and route",
			ConstLabels: prometheus.Labels{"service": service},
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem:   ocrPipeline,
			Name:        httpRequestDurationSeconds,
			Help:        "time spent serving HTTP requests partitioned by status code, method and route",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		}, labels),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unknownRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, route).Inc()
		m.latency.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Register adds the collectors to reg. Collectors registered by an earlier
// router for the same service are reused, so building the handler twice is safe.
func (m *Middleware) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m.requests); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		m.requests = already.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.latency); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		m.latency = already.ExistingCollector.(*prometheus.HistogramVec)
	}
	return nil
}
