// Package server exposes the scheduler over HTTP: a JSON API, a websocket
// event stream, prometheus metrics and a health probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentcore/internal/config"
	"agentcore/internal/events"
	"agentcore/internal/policy/approval"
	"agentcore/internal/runner"
	"agentcore/internal/server/handlers"
	"agentcore/internal/server/middleware"
	"agentcore/internal/server/websocket"
	"agentcore/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Approvals is what the server needs from the approval gate.
type Approvals interface {
	handlers.Approvals
	SetPresenter(p approval.Presenter)
}

// Options wires the server's collaborators. Routes whose collaborator is
// nil answer 503.
type Options struct {
	Config      config.ServerConfig
	Version     string
	Sessions    handlers.Sessions
	Approvals   Approvals
	Processes   handlers.Processes
	Checkpoints handlers.Checkpoints

	// Presenter, if set, keeps receiving approval requests alongside the
	// websocket stream.
	Presenter approval.Presenter
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *websocket.Hub
	opts       Options
	startedAt  time.Time
}

// New creates the server and its routes.
func New(opts Options) *Server {
	router := mux.NewRouter()
	hub := websocket.NewHub()

	s := &Server{
		httpServer: &http.Server{
			Handler:      middleware.Recovery(middleware.Logging(router)),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // streams are long-lived
			IdleTimeout:  120 * time.Second,
		},
		router:    router,
		hub:       hub,
		opts:      opts,
		startedAt: time.Now(),
	}

	s.wireHub()
	s.setupRoutes()
	return s
}

func (s *Server) wireHub() {
	if s.opts.Sessions != nil {
		s.hub.SetChatHandler(func(sessionID, message string) error {
			_, err := s.opts.Sessions.Submit(context.Background(), sessionID, runner.Message{Content: message}, s.hub.Sink(sessionID))
			return err
		})
		s.hub.SetCancelHandler(func(sessionID string) error {
			if !s.opts.Sessions.Cancel(sessionID) {
				return fmt.Errorf("no active run for session %s", sessionID)
			}
			return nil
		})
	}

	if s.opts.Approvals != nil {
		s.hub.SetApprovalHandler(s.opts.Approvals.Resolve)
		s.hub.SetAnswerHandler(s.opts.Approvals.Answer)

		var presenter approval.Presenter = &approval.EventPresenter{Publish: s.hub.Publish}
		if s.opts.Presenter != nil {
			presenter = approval.NewMultiPresenter(presenter, s.opts.Presenter)
		}
		s.opts.Approvals.SetPresenter(presenter)
	}
}

func (s *Server) setupRoutes() {
	api := handlers.NewAPI(handlers.Deps{
		Sessions:    s.opts.Sessions,
		Approvals:   s.opts.Approvals,
		Processes:   s.opts.Processes,
		Checkpoints: s.opts.Checkpoints,
		Sink:        func(sessionID string) events.Sink { return s.hub.Sink(sessionID) },
	})
	api.RegisterRoutes(s.router)

	s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.Serve(s.hub, w, r)
	})
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var sessions func() int
	if s.opts.Sessions != nil {
		sessions = func() int { return len(s.opts.Sessions.Sessions()) }
	}
	s.router.HandleFunc("/healthz", handlers.HealthHandler(s.opts.Version, s.startedAt, sessions, s.hub.ClientCount)).
		Methods(http.MethodGet)
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	addr := s.opts.Config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully. The hub
// runs for as long as Serve does.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	logger.Info().Str("addr", ln.Addr().String()).Msg("Starting server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
