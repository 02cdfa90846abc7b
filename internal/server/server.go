// Package server wraps http.Server with the timeouts and logging the service uses.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"go.uber.org/zap"
)

type Server struct {
	name       string
	httpServer *http.Server
}

// New builds a server. Write timeouts are left to handlers: websocket
// connections outlive any fixed deadline and set their own.
func New(name, addr string, handler http.Handler) *Server {
	return &Server{
		name: name,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func (s *Server) Addr() string { return s.httpServer.Addr }

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	observability.Log.Info("starting server", zap.String("server", s.name), zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	observability.Log.Info("starting server", zap.String("server", s.name), zap.String("addr", lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	observability.Log.Info("shutting down server", zap.String("server", s.name))
	return s.httpServer.Shutdown(ctx)
}
