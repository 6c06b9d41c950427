// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
)

// shutdownGrace bounds how long in-flight requests get on shutdown.
const shutdownGrace = 10 * time.Second

// Server runs the HTTP listener. Implements suture.Service.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer pairs the listen address with the assembled handler.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{addr: cfg.ListenAddr, handler: handler}
}

// Serve listens until ctx is canceled, then drains gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logging.Warn().Err(err).Msg("HTTP shutdown incomplete, closing")
		_ = srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *Server) String() string { return "http-server" }
