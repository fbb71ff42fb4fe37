// Package web exposes the authentication flow and the annotated video
// stream over HTTP. It is a thin boundary: every operation returns the
// structured status/message shape produced by the auth service.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/reivaJAQM/bioaccess/pkg/auth"
	"github.com/reivaJAQM/bioaccess/pkg/logging"
	"github.com/reivaJAQM/bioaccess/pkg/pipeline"
)

const sessionCookieName = "bioaccess_session"

// Server serves the BioAccess HTTP API and video feed.
type Server struct {
	auth       *auth.Service
	capture    *pipeline.Supervisor
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer wires the API against the auth service and the capture
// supervisor.
func NewServer(host string, port int, authSvc *auth.Service, capture *pipeline.Supervisor) *Server {
	r := chi.NewRouter()

	s := &Server{
		auth:    authSvc,
		capture: capture,
		router:  r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /video_feed streams for as long as the
		// client stays connected.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/video_feed", s.handleVideoFeed)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/login/status", s.handleLoginStatus)
		r.Post("/enroll-face", s.handleEnrollFace)
		r.Post("/logout", s.handleLogout)
		r.Get("/session", s.handleSession)
		r.Post("/capture/start", s.handleCaptureStart)
		r.Post("/capture/stop", s.handleCaptureStop)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs requests through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.WithFields(logging.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
