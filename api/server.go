// Package api exposes the chatbot platform over HTTP.
//
// Routes:
//
//	POST   /api/v1/bots                          create a bot
//	GET    /api/v1/bots                          list bots
//	GET    /api/v1/bots/{id}                     fetch a bot
//	GET    /api/v1/widget/{key}                  widget bootstrap by API key
//	POST   /api/v1/bots/{id}/documents           ingest a document
//	DELETE /api/v1/bots/{id}/documents/{doc}     remove a document
//	GET    /api/v1/bots/{id}/analytics           aggregate chat metrics
//	DELETE /api/v1/bots/{id}/sessions/{sid}      clear a session
//	POST   /api/v1/chat                          run a chat turn
//	GET    /health, GET /ready                   probes
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery and request logging
//   - response.go: JSON helpers
//   - health.go: probes
//   - bots.go: bot, document, analytics, and session endpoints
//   - chat.go: chat endpoint
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/embedchat/embedchat/internal/analytics"
	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/ingest"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/pipeline"
	"github.com/embedchat/embedchat/internal/session"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

const (
	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 90 * time.Second
	IdleTimeout  = 120 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
)

// Deps are the services the API serves.
type Deps struct {
	Bots     bot.Registry
	Store    vectorstore.Store
	Sessions session.Store
	Ingestor *ingest.Ingestor
	Pipeline *pipeline.Pipeline
	Recorder *analytics.Recorder
	EmbedDim int // collection dimension for newly created bots
	Logger   log.Logger
}

// Server is the HTTP server.
type Server struct {
	mux    *http.ServeMux
	deps   Deps
	logger log.Logger
}

// NewServer registers all routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		deps:   deps,
		logger: deps.Logger,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)

	s.mux.HandleFunc("POST /api/v1/bots", s.handleCreateBot)
	s.mux.HandleFunc("GET /api/v1/bots", s.handleListBots)
	s.mux.HandleFunc("GET /api/v1/bots/{id}", s.handleGetBot)
	s.mux.HandleFunc("GET /api/v1/widget/{key}", s.handleWidgetConfig)
	s.mux.HandleFunc("POST /api/v1/bots/{id}/documents", s.handleIngest)
	s.mux.HandleFunc("DELETE /api/v1/bots/{id}/documents/{doc}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /api/v1/bots/{id}/analytics", s.handleAnalytics)
	s.mux.HandleFunc("DELETE /api/v1/bots/{id}/sessions/{sid}", s.handleClearSession)
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)

	return s
}

// Handler returns the routes wrapped in middleware, recovery outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, s.recoveryMiddleware, s.loggingMiddleware)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
