// Package transport serves the dispatcher over net/http. It owns socket
// parsing and write-back; the core pipeline stays wire-agnostic behind the
// exchange interface.
package transport

import (
	"context"
	"errors"
	nhttp "net/http"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/blyfast/blyfast/config"
	"github.com/blyfast/blyfast/core"
)

// Server binds a Dispatcher to a listening address.
type Server struct {
	srv *nhttp.Server
	log zerolog.Logger
}

// New builds the server. When metrics is non-nil it is mounted at the
// configured metrics path, outside the dispatcher pipeline.
func New(cfg config.ServerConfig, d *core.Dispatcher, metrics nhttp.Handler, log zerolog.Logger) *Server {
	log = log.With().Str("component", "transport").Logger()

	dispatch := nhttp.HandlerFunc(func(w nhttp.ResponseWriter, r *nhttp.Request) {
		ex := &exchange{w: w, r: r, maxBodyBytes: cfg.MaxBodyBytes}
		// Failures are logged and answered inside the dispatcher.
		_ = d.Dispatch(r.Context(), ex)
	})

	var handler nhttp.Handler = dispatch
	if metrics != nil && cfg.MetricsPath != "" {
		mux := nhttp.NewServeMux()
		mux.Handle(cfg.MetricsPath, metrics)
		mux.Handle("/", dispatch)
		handler = mux
	}

	if cfg.EnableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &Server{
		srv: &nhttp.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns
// nil.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, nhttp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down listener")
	return s.srv.Shutdown(ctx)
}
