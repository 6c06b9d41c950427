// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package client defines the destination-side adapter contract and the
// concrete scrobble integrations (Last.fm, ListenBrainz). The dispatch
// engine treats adapters as opaque beyond Submit and its error
// classification.
package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/play"
)

// Adapter is the submission capability every destination provides.
// Submit errors must be classified through the fault package; the
// dispatch engine's retry, rejection and suspension policy keys off the
// classification alone.
type Adapter interface {
	// ID is the operator-assigned instance name, unique per config.
	ID() string

	// Type is the declared integration type ("lastfm", "listenbrainz").
	Type() string

	Submit(ctx context.Context, rec *play.Record) error
}

// NowPlayingUpdater is implemented by destinations that accept
// "currently playing" updates. Best-effort: failures are logged, never
// retried, never counted as dispatch outcomes.
type NowPlayingUpdater interface {
	UpdateNowPlaying(ctx context.Context, rec *play.Record) error
}

// Factory builds an adapter instance from its config section.
type Factory func(cfg config.ClientConfig) (Adapter, error)

// Registry maps declared client types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with all built-in client types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("lastfm", func(cfg config.ClientConfig) (Adapter, error) {
		return NewLastfmClient(cfg), nil
	})
	r.Register("listenbrainz", func(cfg config.ClientConfig) (Adapter, error) {
		return NewListenBrainzClient(cfg), nil
	})
	return r
}

// Register adds or replaces a factory for a client type.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs the adapter declared by cfg, wrapped in a circuit
// breaker. An unknown type is a config error.
func (r *Registry) Build(cfg config.ClientConfig) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Config(fmt.Errorf("unknown client type %q for client %q", cfg.Type, cfg.ID))
	}
	adapter, err := f(cfg)
	if err != nil {
		return nil, err
	}
	return WrapBreaker(adapter), nil
}
