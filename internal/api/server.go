// Package api serves the HTTP command surface and the metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/flowlens/internal/config"
	"firestige.xyz/flowlens/internal/engine"
	"firestige.xyz/flowlens/internal/feed"
	"firestige.xyz/flowlens/internal/flow"
	"firestige.xyz/flowlens/internal/log"
)

// Controller is the engine surface the API drives.
type Controller interface {
	Start(ctx context.Context, s engine.Session) error
	Stop(ctx context.Context) error
	UpdateFilter(ctx context.Context, expr string) error
	Status() engine.Status
	Diagnostics() engine.Diagnostics
}

// Server is the HTTP API server.
type Server struct {
	ctrl   Controller
	feed   *feed.Mailbox[flow.Snapshot]
	base   *config.Config
	logger log.Logger
	router *mux.Router
	server *http.Server
}

// NewServer wires the routes. base supplies defaults for start requests.
func NewServer(ctrl Controller, f *feed.Mailbox[flow.Snapshot], base *config.Config) *Server {
	s := &Server{
		ctrl:   ctrl,
		feed:   f,
		base:   base,
		logger: log.GetLogger().WithField("component", "api"),
		router: mux.NewRouter(),
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", s.stateHandler).Methods(http.MethodGet)
	v1.HandleFunc("/snapshot", s.snapshotHandler).Methods(http.MethodGet)
	v1.HandleFunc("/diagnostics", s.diagnosticsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/capture/start", s.startHandler).Methods(http.MethodPost)
	v1.HandleFunc("/capture/stop", s.stopHandler).Methods(http.MethodPost)
	v1.HandleFunc("/capture/filter", s.filterHandler).Methods(http.MethodPut)

	if base.Metrics.Enabled {
		s.router.Handle(base.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("API server starting")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server forced to shutdown: %w", err)
	}
	s.logger.Info("API server exited")
	return nil
}
