// Package api exposes reconciliation runs over HTTP.
//
// A client posts both ledgers as JSON rows under a configured profile; the
// profile supplies labels, matching parameters and the output store, so the
// request body carries data only.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/gorilla/mux"
)

// DefaultMaxBodyBytes bounds a reconciliation request body
const DefaultMaxBodyBytes = 32 << 20

// Config holds the server settings
type Config struct {
	// Profiles maps a profile name to its request template. Ledger sources
	// of a template are replaced by the posted rows.
	Profiles map[string]*reconciler.ReconciliationRequest
	// HistoryURL is the SQL store listed by GET /api/v1/runs
	HistoryURL   string
	MaxBodyBytes int64
}

// Server serves the reconciliation API
type Server struct {
	service *reconciler.ReconciliationService
	config  *Config
	logger  logger.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewServer creates a server backed by service
func NewServer(service *reconciler.ReconciliationService, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		service: service,
		config:  config,
		logger:  logger.GetGlobalLogger().WithComponent("api"),
		active:  make(map[string]bool),
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/reconciliations", s.handleReconcile).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

// HTTPServer wraps the router with the timeouts used in production
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote":      r.RemoteAddr,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Request served")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// acquire marks profile as running; false means another run holds it
func (s *Server) acquire(profile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[profile] {
		return false
	}
	s.active[profile] = true
	return true
}

func (s *Server) release(profile string) {
	s.mu.Lock()
	delete(s.active, profile)
	s.mu.Unlock()
}
