// Package api exposes the local HTTP interface: pool state, the
// filtration command, the event log and a WebSocket snapshot stream.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"poolview/internal/auth"
	"poolview/internal/config"
	"poolview/internal/coordinator"
	"poolview/internal/events"
	"poolview/internal/storage"
)

// Server represents the API server
type Server struct {
	router       *chi.Mux
	coord        *coordinator.Coordinator
	localAuth    *auth.LocalAuth
	jwtManager   *auth.JWTManager
	authMw       *auth.Middleware
	wsTokenStore *auth.WSTokenStore
	eventStore   *events.Store
	store        storage.Storage
	config       *config.Config
	logger       *log.Logger
}

// NewServer creates new API server
func NewServer(coord *coordinator.Coordinator, store storage.Storage, eventStore *events.Store, cfg *config.Config, logger *log.Logger) *Server {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret(), cfg.JWTExpiration())

	s := &Server{
		router:       chi.NewRouter(),
		coord:        coord,
		localAuth:    auth.NewLocalAuth(cfg.APIPassword()),
		jwtManager:   jwtManager,
		authMw:       auth.NewMiddleware(jwtManager),
		wsTokenStore: auth.NewWSTokenStore(),
		eventStore:   eventStore,
		store:        store,
		config:       cfg,
		logger:       logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Create handlers
	authHandler := NewAuthHandler(s.localAuth, s.jwtManager, s.wsTokenStore, s.eventStore)
	poolHandler := NewPoolHandler(s.coord, s.store, s.eventStore)
	eventsHandler := NewEventsHandler(s.eventStore)
	streamHandler := NewStreamHandler(s.coord, s.wsTokenStore, s.logger)

	// Public routes
	r.Post("/api/auth/login", authHandler.Login)
	r.Get("/api/health", poolHandler.Health)

	// WebSocket stream authenticates with a one-time ws_token
	r.Get("/api/pool/stream", streamHandler.Connect)

	// Protected API routes
	r.Group(func(r chi.Router) {
		// Apply auth middleware only if NoAuth is false
		if !s.config.NoAuth() {
			r.Use(s.authMw.RequireAuth)
		} else {
			// In no-auth mode, inject a fake user
			r.Use(s.fakeAuthMiddleware)
		}

		// Auth
		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)
		r.Get("/api/auth/ws-token", authHandler.WSToken)

		// Events
		r.Get("/api/events", eventsHandler.List)

		// Pool state
		r.Get("/api/pool", poolHandler.Snapshot)
		r.Get("/api/pool/sensors", poolHandler.Sensors)
		r.Get("/api/pool/modules", poolHandler.Modules)
		r.Get("/api/pool/history", poolHandler.History)
		r.Post("/api/pool/refresh", poolHandler.Refresh)

		// Commands
		r.Post("/api/pool/modules/{id}/filtration", poolHandler.SetFiltration)
	})
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// fakeAuthMiddleware injects a fake user for no-auth mode
func (s *Server) fakeAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.SetUserContext(r.Context(), &auth.User{Username: "dev"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
