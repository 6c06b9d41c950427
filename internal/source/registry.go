// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
)

// Factory builds an adapter instance from its config section.
type Factory func(cfg config.SourceConfig) (Adapter, error)

// Registry maps declared source types to factories. Integrations are
// selected by type string, never by switch statements in the core.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with all built-in source types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("json", func(cfg config.SourceConfig) (Adapter, error) {
		return NewJSONSource(cfg), nil
	})
	r.Register("lastfm", func(cfg config.SourceConfig) (Adapter, error) {
		return NewLastfmSource(cfg), nil
	})
	r.Register("webhook", func(cfg config.SourceConfig) (Adapter, error) {
		return NewWebhookSource(cfg), nil
	})
	return r
}

// Register adds or replaces a factory for a source type.
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

// Build constructs the adapter declared by cfg. An unknown type is a
// config error: the source is disabled and surfaced once, never retried.
func (r *Registry) Build(cfg config.SourceConfig) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Config(fmt.Errorf("unknown source type %q for source %q", cfg.Type, cfg.ID))
	}
	return f(cfg)
}
