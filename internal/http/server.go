// Package http exposes the expense tracker as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"expenses/internal/log"
	"expenses/internal/middleware/security"
	"expenses/internal/middleware/trace"
	"expenses/internal/services"
)

// Deps are the collaborators of the HTTP boundary.
type Deps struct {
	Accounts *services.AccountService
	Expenses *services.ExpenseService
	Resolver IdentityResolver

	// Ready reports whether the backing store answers; nil means always ready.
	Ready func(context.Context) error

	CORSOrigins []string
	Logger      *log.Logger
}

type Server struct {
	http.Server
	accounts *services.AccountService
	expenses *services.ExpenseService
	resolver IdentityResolver
	ready    func(context.Context) error

	traceMiddleware *trace.Middleware
	logger          *log.StructuredLogger
	shutdownOnce    sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: r,
		},
		accounts:        deps.Accounts,
		expenses:        deps.Expenses,
		resolver:        deps.Resolver,
		ready:           deps.Ready,
		traceMiddleware: trace.NewMiddleware(nil),
		logger:          log.NewStructuredLogger(nil),
	}

	// RealIP runs first so tracing logs the client address.
	r.Use(middleware.RealIP)
	r.Use(log.Middleware(logger.WithComponent(log.ComponentHTTP)))
	r.Use(s.traceMiddleware.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader, "Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(middleware.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/healthy", s.handleHealthy)
	r.Get("/readyz", s.handleReady)
	r.Post("/signup", s.handleSignup)
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/expenses", s.handleListExpenses)
		r.Post("/expenses", s.handleAddExpense)
		r.Get("/expenses/export", s.handleExportExpenses)
		r.Put("/expenses/{id}", s.handleUpdateExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)

		r.Put("/user", s.handleUpdateUsername)
		r.Delete("/user", s.handleDeleteAccount)
	})

	return s
}

// Shutdown stops the listener and logs the request totals once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)

		m := s.traceMiddleware.GetMetrics()
		log.FromContext(ctx).WithComponent(log.ComponentHTTP).Info("HTTP server stopped",
			"requests_total", m.TotalRequests,
			"server_errors_total", m.ServerErrors,
			"avg_latency", m.AverageLatency().Round(time.Microsecond).String())
	})
	return shutdownErr
}
