// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package supervisor arranges the process's long-running services under
// a suture tree with per-layer failure isolation.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds restart policy for every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering
	// backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64

	// FailureBackoff is how long to wait once the threshold is
	// exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig matches suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree groups services into three layers so a restart storm in one
// stays contained:
//   - sources: one poller per configured source
//   - pipeline: the bus router and the dispatch engine
//   - api: the HTTP server
//
// A crashing source poller never restarts the dispatch workers, and the
// status API keeps serving while either recovers.
type Tree struct {
	root     *suture.Supervisor
	sources  *suture.Supervisor
	pipeline *suture.Supervisor
	api      *suture.Supervisor
}

// NewTree builds the tree. Suture events log through logger via
// sutureslog.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	t := &Tree{
		root:     suture.New("playrelay", rootSpec),
		sources:  suture.New("sources-layer", childSpec),
		pipeline: suture.New("pipeline-layer", childSpec),
		api:      suture.New("api-layer", childSpec),
	}
	t.root.Add(t.pipeline)
	t.root.Add(t.sources)
	t.root.Add(t.api)
	return t
}

// AddSource adds a source poller to the sources layer.
func (t *Tree) AddSource(svc suture.Service) suture.ServiceToken {
	return t.sources.Add(svc)
}

// AddPipeline adds a bus or dispatch service to the pipeline layer.
func (t *Tree) AddPipeline(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// AddAPI adds an HTTP-facing service to the api layer.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// RemoveSource stops and removes a source poller, waiting for it to
// terminate. Used when a source is deregistered at runtime.
func (t *Tree) RemoveSource(token suture.ServiceToken, timeout time.Duration) error {
	return t.sources.RemoveAndWait(token, timeout)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields the
// terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that ignored shutdown. Logged
// during exit to surface stuck goroutines.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
