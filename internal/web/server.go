// Package web wires the HTTP surface: chi router, middleware stack and the
// JSON API handlers.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rollmark/rollmark/internal/auth"
	"github.com/rollmark/rollmark/internal/config"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/ledger"
	"github.com/rollmark/rollmark/internal/oracle"
	"github.com/rollmark/rollmark/internal/rollup"
	"github.com/rollmark/rollmark/internal/web/middleware"
)

// Stores groups the repositories the server needs.
type Stores struct {
	Subjects database.SubjectStore
	Students database.StudentStore
	Alerts   database.AlertStore
}

// Server represents the web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	tokens     *auth.TokenService
}

// NewServer creates a new web server.
func NewServer(cfg *config.Config, port int, host string, stores Stores, ledgerSvc *ledger.Service, rollups *rollup.Service, oracleClient *oracle.Client, index *database.RosterIndex, tokens *auth.TokenService) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		tokens: tokens,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS())

	// Set up routes
	s.setupRoutes(stores, ledgerSvc, rollups, oracleClient, index)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // classroom photo uploads can be slow
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
