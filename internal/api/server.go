package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/venture/internal/auth"
	"github.com/jordanhubbard/venture/internal/venture"
	"github.com/jordanhubbard/venture/pkg/config"
)

// Server represents the HTTP API server
type Server struct {
	app    *venture.Venture
	config *config.Config
}

// NewServer creates a new API server
func NewServer(app *venture.Venture, cfg *config.Config) *Server {
	return &Server{
		app:    app,
		config: cfg,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check and prometheus metrics
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Auth
	authHandlers := auth.NewHandlers(s.app.GetAuthManager())
	mux.HandleFunc("/api/v1/auth/login", authHandlers.HandleLogin)
	mux.HandleFunc("/api/v1/auth/logout", authHandlers.HandleLogout)
	mux.HandleFunc("/api/v1/auth/refresh", authHandlers.HandleRefreshToken)
	mux.HandleFunc("/api/v1/auth/change-password", authHandlers.HandleChangePassword)
	mux.HandleFunc("/api/v1/auth/api-keys", authHandlers.HandleAPIKeys)
	mux.HandleFunc("/api/v1/auth/api-keys/", authHandlers.HandleRevokeAPIKey)
	mux.HandleFunc("/api/v1/auth/me", authHandlers.HandleGetCurrentUser)
	mux.HandleFunc("/api/v1/auth/users", authHandlers.HandleUsers)

	// Tenants and their subresources (cycles, kpis, strategies, events, ...)
	mux.HandleFunc("/api/v1/tenants", s.handleTenants)
	mux.HandleFunc("/api/v1/tenants/", s.handleTenant)

	// Strategy cache (global scope)
	mux.HandleFunc("/api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("/api/v1/strategies/rebuild", s.handleStrategyRebuild)
	mux.HandleFunc("/api/v1/strategies/evict", s.handleStrategyEvict)

	// Events (real-time updates and recent history)
	mux.HandleFunc("/api/v1/events", s.handleGetEvents)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventStream)
	mux.HandleFunc("/api/v1/events/ws", s.handleEventWebsocket)
	mux.HandleFunc("/api/v1/events/stats", s.handleGetEventStats)

	// System
	mux.HandleFunc("/api/v1/system/status", s.handleSystemStatus)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)

	return handler
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[API] %s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware handles authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	protected := s.app.GetAuthManager().Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health, metrics, login, and the live stream stay open; streams
		// carry tokens poorly through EventSource and proxies.
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/metrics" ||
			r.URL.Path == "/api/v1/auth/login" ||
			r.URL.Path == "/api/v1/events/stream" {
			next.ServeHTTP(w, r)
			return
		}

		// Skip auth if disabled
		if !s.config.Security.EnableAuth {
			next.ServeHTTP(w, r)
			return
		}

		protected.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// splitTenantPath splits /api/v1/tenants/{id}[/action[/sub]] into its parts.
func splitTenantPath(path string) (id, action, sub string) {
	rest := strings.TrimPrefix(path, "/api/v1/tenants/")
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) > 0 {
		id = parts[0]
	}
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		sub = parts[2]
	}
	return id, action, sub
}
