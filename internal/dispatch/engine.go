// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package dispatch delivers discovered plays to every configured
// destination client. Each client gets its own worker goroutine and
// bounded queue so one slow or failing destination never stalls the
// others.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/playrelay/playrelay/internal/client"
	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/status"
)

// Engine fans discovered plays out to per-client workers. Fan-out is
// non-blocking: a full client queue drops the record for that client
// only and counts the drop.
type Engine struct {
	mu      sync.RWMutex
	workers map[string]*worker
	status  *status.Registry
	log     zerolog.Logger
}

// NewEngine returns an engine with no clients registered.
func NewEngine(st *status.Registry) *Engine {
	return &Engine{
		workers: make(map[string]*worker),
		status:  st,
		log:     logging.Logger().With().Str("component", "dispatch").Logger(),
	}
}

// AddClient registers a destination with its resolved dispatch policy.
// Must be called before Serve.
func (e *Engine) AddClient(a client.Adapter, cfg config.DispatchConfig, nowPlaying bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers[a.ID()] = newWorker(a, cfg, nowPlaying, e.status, e.log)
	e.status.RegisterClient(a.ID(), a.Type())
}

// Serve runs all client workers until ctx is canceled. Implements
// suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	e.mu.RLock()
	workers := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	wg.Wait()
	return ctx.Err()
}

// Dispatch hands rec to every client worker. Each worker gets its own
// copy; a dropped or failed delivery on one client never affects the
// record another client sees.
func (e *Engine) Dispatch(rec *play.Record) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, w := range e.workers {
		w.enqueue(rec.Clone())
	}
}

// NowPlaying forwards a currently-playing update to every client that
// opted in and supports it. Best-effort: failures are logged at debug
// and never retried.
func (e *Engine) NowPlaying(ctx context.Context, rec *play.Record) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, w := range e.workers {
		w.notifyNowPlaying(ctx, rec)
	}
}

// MarkHealthy signals that a suspended client's credential has been
// refreshed; its held records are replayed in order. Returns false for
// an unknown client id.
func (e *Engine) MarkHealthy(id string) bool {
	e.mu.RLock()
	w, ok := e.workers[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	w.signalResume()
	return true
}

// ClientIDs returns the registered client ids.
func (e *Engine) ClientIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for id := range e.workers {
		out = append(out, id)
	}
	return out
}
