package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/supportrag/internal/service"
)

// maxRequestBody caps the size of a search request body.
const maxRequestBody = 1 << 20

// Searcher runs the search pipeline.
type Searcher interface {
	Search(ctx context.Context, req service.QueryRequest) (*service.QueryResponse, error)
}

// Readiness reports whether the record store is usable.
type Readiness interface {
	Available() bool
}

// HTTPServer serves the search API and health endpoints
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string      // CORS allowed origins
	RequestTimeout time.Duration // per-request deadline, 0 disables
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg HTTPServerConfig, searcher Searcher, readiness Readiness) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create chi router
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	h := &handlers{searcher: searcher, readiness: readiness, logger: logger}

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", h.ready)
	router.Get("/gptAnswer", h.ready)
	router.Post("/search", h.search)

	writeTimeout := 2 * time.Minute
	if cfg.RequestTimeout > 0 {
		writeTimeout = cfg.RequestTimeout + 10*time.Second
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      otelhttp.NewHandler(router, "ragd"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return &HTTPServer{
		server: server,
		router: router,
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

type handlers struct {
	searcher  Searcher
	readiness Readiness
	logger    *slog.Logger
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type readinessBody struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, codes.InvalidArgument, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	resp, err := h.searcher.Search(r.Context(), req)
	if resp != nil {
		// Degraded responses are delivered with 200 alongside their error.
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		code := status.Code(err)
		msg := err.Error()
		var se *service.Error
		if errors.As(err, &se) {
			msg = se.Err.Error()
		}
		writeError(w, code, msg)
		return
	}

	writeError(w, codes.Internal, "empty search response")
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, readinessBody{
		Status:      "ok",
		DBConnected: h.readiness.Available(),
	})
}

func writeError(w http.ResponseWriter, code codes.Code, msg string) {
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{
		Error: errorDetail{Code: code.String(), Message: msg},
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				// If no origins specified, allow all in development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
		})
	}
}
