// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package status keeps per-source and per-client health snapshots for
// the read-only status API. Writers are the scheduler, the pipeline and
// the dispatch engine; readers only ever get copies.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/playrelay/playrelay/internal/fault"
)

// Snapshot is the externally visible state of one source or client.
type Snapshot struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Healthy        bool      `json:"healthy"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// LastError holds the classification of the most recent failure;
	// empty while healthy.
	LastError string `json:"last_error,omitempty"`

	DispatchedCount       uint64 `json:"dispatched_count"`
	DuplicateCount        uint64 `json:"duplicate_count"`
	PermanentFailureCount uint64 `json:"permanent_failure_count"`
}

// Registry tracks snapshots for all registered sources and clients.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Snapshot
	clients map[string]*Snapshot
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*Snapshot),
		clients: make(map[string]*Snapshot),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// RegisterSource adds a source entry, healthy until proven otherwise.
func (r *Registry) RegisterSource(id, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = &Snapshot{ID: id, Type: typ, Healthy: true}
}

// RegisterClient adds a client entry, healthy until proven otherwise.
func (r *Registry) RegisterClient(id, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &Snapshot{ID: id, Type: typ, Healthy: true}
}

// SourceActive records a successful snapshot fetch for a source.
func (r *Registry) SourceActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[id]; ok {
		s.Healthy = true
		s.LastError = ""
		s.LastActivityAt = r.now()
	}
}

// SourceFailed records a source poll failure. Transient failures keep
// the source healthy; auth and config failures mark it down.
func (r *Registry) SourceFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return
	}
	kind := fault.KindOf(err)
	s.LastError = kind.String()
	if kind == fault.KindAuth || kind == fault.KindConfig {
		s.Healthy = false
	}
}

// ClientDispatched bumps the success counter for a client and marks it
// healthy.
func (r *Registry) ClientDispatched(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.Healthy = true
		c.LastError = ""
		c.DispatchedCount++
		c.LastActivityAt = r.now()
	}
}

// ClientFailed records a permanent dispatch failure for a client.
func (r *Registry) ClientFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.PermanentFailureCount++
		c.LastError = fault.KindOf(err).String()
	}
}

// ClientSuspended marks a client unhealthy after an auth failure.
func (r *Registry) ClientSuspended(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.Healthy = false
		c.LastError = fault.KindOf(err).String()
	}
}

// ClientResumed marks a suspended client healthy again.
func (r *Registry) ClientResumed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.Healthy = true
		c.LastError = ""
	}
}

// DuplicateSuppressed bumps the duplicate counter on the originating
// source.
func (r *Registry) DuplicateSuppressed(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[sourceID]; ok {
		s.DuplicateCount++
	}
}

// SourceDispatched bumps the dispatched counter on the originating
// source once a discovered play enters dispatch.
func (r *Registry) SourceDispatched(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[sourceID]; ok {
		s.DispatchedCount++
	}
}

// Sources returns copies of all source snapshots, sorted by id.
func (r *Registry) Sources() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.sources)
}

// Clients returns copies of all client snapshots, sorted by id.
func (r *Registry) Clients() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.clients)
}

// Healthy reports whether every registered source and client is
// healthy. An empty registry is healthy.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if !s.Healthy {
			return false
		}
	}
	for _, c := range r.clients {
		if !c.Healthy {
			return false
		}
	}
	return true
}

func collect(m map[string]*Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(m))
	for _, s := range m {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
