// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package dedup resolves cross-cycle and cross-source identity of
// discovered plays so one physical listen is dispatched exactly once.
//
// Two layers are checked before dispatch:
//
//  1. the discovering source's own bounded history, which catches the
//     same source re-reporting a play after a stale or restart cycle;
//  2. a global time-windowed index shared across sources, which catches
//     two independently configured sources observing the same listen.
//
// A suppressed duplicate is counted, never an error.
package dedup

import (
	"sync"
	"time"

	"github.com/playrelay/playrelay/internal/cache"
	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
)

// Scope names where a duplicate was caught. Exported for stats.
const (
	ScopeHistory = "history"
	ScopeGlobal  = "global"
)

type historyEntry struct {
	trackKey string
	playedAt time.Time
	addedAt  time.Time
}

// Registry is the dedup gate in front of the dispatch engine.
type Registry struct {
	cfg   config.DedupConfig
	index *cache.SeenIndex

	mu        sync.Mutex
	histories map[string][]historyEntry // sourceID -> most-recent-first
	histSize  int

	now func() time.Time
}

// NewRegistry builds the registry. historySize bounds each source's
// ring; the global index is bounded by cfg.IndexCapacity and entries
// expire after twice the record's dedup window.
func NewRegistry(cfg config.DedupConfig, historySize int) *Registry {
	if cfg.Window <= 0 {
		cfg.Window = 240 * time.Second
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = play.DedupToleranceDefault
	}
	if historySize <= 0 {
		historySize = 50
	}
	return &Registry{
		cfg:       cfg,
		index:     cache.NewSeenIndex(cfg.IndexCapacity, 2*cfg.Window),
		histories: make(map[string][]historyEntry),
		histSize:  historySize,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Test hook; also forwarded to the
// global index.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	r.index.SetClock(now)
}

// Window returns the dedup window for a record: the track duration when
// known, the configured fallback otherwise.
func (r *Registry) Window(rec *play.Record) time.Duration {
	if rec.DurationSeconds > 0 {
		return time.Duration(rec.DurationSeconds) * time.Second
	}
	return r.cfg.Window
}

// CheckAndRecord reports whether rec duplicates an already-dispatched
// listen. On a miss the record is inserted into both the source history
// and the global index, so the check is also the claim: two racing
// observations of the same listen cannot both pass.
func (r *Registry) CheckAndRecord(rec *play.Record) (duplicate bool, scope string) {
	window := r.Window(rec)

	if r.inSourceHistory(rec, window) {
		metrics.DuplicatesSuppressed.WithLabelValues(rec.Origin.SourceID, ScopeHistory).Inc()
		logging.Debug().
			Str("source", rec.Origin.SourceID).
			Str("track", rec.Track).
			Msg("Duplicate suppressed by source history")
		return true, ScopeHistory
	}

	key := play.DedupKey(rec, r.cfg.Tolerance)
	if _, seen := r.index.SeenWithin(key, 2*window); seen {
		metrics.DuplicatesSuppressed.WithLabelValues(rec.Origin.SourceID, ScopeGlobal).Inc()
		logging.Debug().
			Str("source", rec.Origin.SourceID).
			Str("track", rec.Track).
			Msg("Duplicate suppressed by global index")
		return true, ScopeGlobal
	}

	r.recordHistory(rec)
	metrics.DedupIndexSize.Set(float64(r.index.Len()))
	return false, ""
}

// Sweep drops expired global-index entries. Called opportunistically by
// the pipeline consumer.
func (r *Registry) Sweep() {
	r.index.Sweep()
	metrics.DedupIndexSize.Set(float64(r.index.Len()))
}

// inSourceHistory matches rec against its own source's recent
// discoveries: same normalized track and artists, start times within
// the window. Records without a start time compare by when the history
// entry was recorded.
func (r *Registry) inSourceHistory(rec *play.Record, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := trackKey(rec)
	now := r.now()
	for _, e := range r.histories[rec.Origin.SourceID] {
		if e.trackKey != key {
			continue
		}
		if !rec.PlayedAt.IsZero() && !e.playedAt.IsZero() {
			if absDiff(rec.PlayedAt, e.playedAt) <= window {
				return true
			}
			continue
		}
		if now.Sub(e.addedAt) <= window {
			return true
		}
	}
	return false
}

func (r *Registry) recordHistory(rec *play.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := historyEntry{
		trackKey: trackKey(rec),
		playedAt: rec.PlayedAt,
		addedAt:  r.now(),
	}
	hist := r.histories[rec.Origin.SourceID]
	hist = append([]historyEntry{entry}, hist...)
	if len(hist) > r.histSize {
		hist = hist[:r.histSize]
	}
	r.histories[rec.Origin.SourceID] = hist
}

// HistoryLen returns the size of one source's history ring. Status use.
func (r *Registry) HistoryLen(sourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.histories[sourceID])
}

func trackKey(rec *play.Record) string {
	return play.NormalizeTrack(rec.Track) + "\x1e" + play.NormalizeArtistKey(rec.Artists)
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
