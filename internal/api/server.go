// Package api exposes the chat persistence layer over HTTP. It is the
// surface the portal frontend talks to; rendering and form handling
// live elsewhere.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/campusnotes/notechat/internal/chat"
)

// ServerConfig contains all required parameters for the Server.
type ServerConfig struct {
	Manager *chat.Manager  // required
	Store   chat.Persister // required
	Vault   TokenVault     // required
	Logger  *slog.Logger   // optional
}

// Server is the HTTP front of the service.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a Server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	NewChat(cfg.Manager, cfg.Store).RegisterRoutes(mux)
	NewToken(cfg.Vault).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", health)

	return &Server{mux: mux, logger: logger}, nil
}

// ServeHTTP dispatches through the request-logging middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withLogging(s.mux).ServeHTTP(w, r)
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"id", uuid.NewString(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
