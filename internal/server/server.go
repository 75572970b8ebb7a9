// Package server is the local web interface: a REST API over sessions
// and artifacts, a WebSocket chat endpoint and a rendered style report.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/session"
)

// Server serves the personaclone web interface for one persona.
type Server struct {
	cfg        *config.Config
	manager    *session.Manager
	sessions   *session.Store
	artifacts  *artifacts.Store
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all dependencies.
func New(cfg *config.Config, manager *session.Manager, sessions *session.Store, artifactStore *artifacts.Store) *Server {
	s := &Server{
		cfg:       cfg,
		manager:   manager,
		sessions:  sessions,
		artifacts: artifactStore,
	}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", s.serveIndex)
	r.Get("/profile", s.handleProfilePage)
	r.Get("/ws/chat", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleOpenSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCloseSession)
		r.Post("/sessions/{id}/messages", s.handleMessage)

		r.Get("/artifacts", s.handleListArtifacts)
		r.Post("/artifacts/rollback", s.handleRollback)
		r.Get("/profile", s.handleProfile)
	})

	return r
}

// Router returns the chi router, used by adapters to mount extra routes
// and by tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Serving.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("personaclone web interface listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
