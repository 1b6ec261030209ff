package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/httputil"
	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

// maxRequestBody caps JSON request bodies
const maxRequestBody = 1 << 20

// Server is the billing HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	metrics *observability.Metrics
	tracing bool
	extra   []func(http.Handler) http.Handler
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records HTTP request metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracing wraps the handler with OpenTelemetry HTTP instrumentation
func WithTracing(enabled bool) Option {
	return func(s *Server) { s.tracing = enabled }
}

// WithMiddleware appends middleware that runs after the caller identity is
// known and before the routes
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, mw...) }
}

// NewServer creates the API server and registers every route
func NewServer(credits *ledger.Service, subs *subscription.Service, source catalog.Source, opts ...Option) *Server {
	s := &Server{router: mux.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}

	errs := newErrorWriter(s.logger)
	s.RegisterRoutes(newCreditHandlers(credits, source, errs))
	s.RegisterRoutes(newSubscriptionHandlers(subs, errs))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(s.metrics))
	}
	middlewares = append(middlewares, auth.Middleware)
	middlewares = append(middlewares, s.extra...)
	middlewares = append(middlewares,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	)

	var handler http.Handler = httputil.Chain(middlewares...)(s.router)
	if s.tracing {
		handler = otelhttp.NewHandler(handler, "creditgate.api")
	}
	s.handler = handler
	return s
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
