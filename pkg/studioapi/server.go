package studioapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

// Server exposes a Manager over a JSON HTTP API for presentation layers.
type Server struct {
	manager *mcpmgr.Manager
	opts    Options
	handler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// New builds a Server around mgr.
func New(mgr *mcpmgr.Manager, opts *Options) (*Server, error) {
	if mgr == nil {
		return nil, fmt.Errorf("studioapi: manager is required")
	}
	s := &Server{manager: mgr, opts: opts.withDefaults()}
	s.handler = s.routes()
	return s, nil
}

// Handler exposes the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", s.handleListServers)
		r.Post("/", s.handleAddServer)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetServer)
			r.Put("/", s.handleUpdateServer)
			r.Delete("/", s.handleRemoveServer)

			r.Post("/connect", s.handleConnect)
			r.Post("/reconnect", s.handleReconnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Post("/ping", s.handlePing)

			r.Get("/tools", s.handleListTools)
			r.Post("/tools/{name}", s.handleCallTool)
			r.Get("/prompts", s.handleListPrompts)
			r.Post("/prompts/{name}", s.handleGetPrompt)
			r.Get("/resources", s.handleListResources)
			r.Get("/resource", s.handleReadResource)
		})
	})

	r.Get("/logs", s.handleLogs)
	r.Get("/logs/stream", s.handleLogStream)

	if h := s.opts.MCPHandler; h != nil {
		path := strings.TrimSuffix(s.opts.MCPPath, "/")
		r.Handle(path, h)
		r.Handle(path+"/*", h)
	}

	if len(s.opts.AllowedOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(r)
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		srv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("studioapi: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.opts.Logger.Info("studio api listening", "addr", s.opts.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}
