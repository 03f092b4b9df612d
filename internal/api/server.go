package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mmumbaiwala/PageFinder/internal/config"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// Server runs the status API over HTTP.
type Server struct {
	srv *http.Server
	log *observability.Logger
}

// NewServer wraps the handler in an http.Server bound per the config.
func NewServer(cfg config.ServerConfig, h *Handler, log *observability.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      h.Router(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: log.WithComponent("api"),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe blocks until the server stops. A clean shutdown does
// not count as an error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("status API listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
