// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package tracker converts a time-ordered stream of activity snapshots
// from one source into discovered plays.
//
// One Tracker per source, owned exclusively by that source's scheduler
// task; no method here is safe for concurrent use and none needs to be.
// The state machine per active play:
//
//	CANDIDATE -> PLAYING -> {DISCOVERED, ORPHANED}
//
// A play is DISCOVERED once its accumulated listened time reaches the
// discovery threshold: the absolute threshold (default 240s) or, when
// the track duration is known, the percent threshold (default 50%),
// whichever is reached first. Anything finalized below threshold is
// ORPHANED and never dispatched. A track shorter than the absolute
// threshold is therefore only discoverable through the percent branch,
// and a play of unknown duration needs the full absolute threshold:
// precision over recall.
package tracker

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/source"
)

// Tracker is the per-source now-playing state machine.
type Tracker struct {
	sourceID   string
	sourceType string
	cfg        config.DiscoveryConfig

	active   *play.Record
	lastSeen time.Time

	log zerolog.Logger
	now func() time.Time
}

// New creates a tracker for one source instance.
func New(sourceID, sourceType string, cfg config.DiscoveryConfig) *Tracker {
	return &Tracker{
		sourceID:   sourceID,
		sourceType: sourceType,
		cfg:        cfg,
		log:        logging.Logger().With().Str("source", sourceID).Logger(),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Active returns a copy of the in-progress play, or nil. Used for
// now-playing forwarding and the status export; the copy keeps tracker
// state unshared.
func (t *Tracker) Active() *play.Record {
	return t.active.Clone()
}

// LastSeen returns when the last snapshot was successfully observed.
func (t *Tracker) LastSeen() time.Time { return t.lastSeen }

// Observe feeds one successfully fetched snapshot into the state
// machine and returns any plays finalized as discovered. Transient
// fetch failures must NOT be fed here; they leave state untouched by
// simply not calling Observe.
func (t *Tracker) Observe(activities []source.RawActivity) []*play.Record {
	now := t.now()
	var elapsed time.Duration
	if !t.lastSeen.IsZero() {
		elapsed = now.Sub(t.lastSeen)
	}
	t.lastSeen = now

	newest, ok := currentPlaying(activities)
	if !ok {
		// Nothing playing: the previous active play ended somewhere
		// between the last two polls. Credit it the elapsed time,
		// bounded by its remaining duration, then finalize.
		if t.active == nil {
			return nil
		}
		t.accrue(elapsed)
		return t.finalizeActive()
	}

	if t.active != nil && t.active.SameTrack(newest.Track, newest.Artists, newest.PlayID) {
		// Step 1: still PLAYING, accumulate.
		t.accrue(elapsed)
		return nil
	}

	// Step 2: track changed or nothing was active. Finalize the
	// outgoing play, then seed a new candidate. The elapsed window
	// belongs to the incoming track: the origin reports it as what is
	// playing now, so the switch happened at or before this poll.
	discovered := t.finalizeActive()

	rec, err := play.NewRecord(newest.Track, newest.Artists, play.Origin{
		SourceID:   t.sourceID,
		SourceType: t.sourceType,
		RawPlayID:  newest.PlayID,
	})
	if err != nil {
		t.log.Warn().Err(err).Str("track", newest.Track).Msg("Dropping unusable activity")
		return discovered
	}
	rec.Album = newest.Album
	rec.DurationSeconds = newest.DurationSeconds
	rec.PlayedAt = newest.PlayedAt

	seed := elapsed.Seconds()
	if newest.DurationSeconds > 0 && seed > float64(newest.DurationSeconds) {
		seed = float64(newest.DurationSeconds)
	}
	rec.ListenedSeconds = seed

	if rec.PlayedAt.IsZero() && newest.NowPlaying {
		// Source reports only "currently playing": infer the start
		// from the observed listen time.
		rec.PlayedAt = now.Add(-time.Duration(seed * float64(time.Second)))
	}

	t.active = rec
	t.log.Debug().
		Str("track", rec.Track).
		Str("artist", rec.PrimaryArtist()).
		Float64("seed_seconds", seed).
		Msg("New candidate play")
	return discovered
}

// CheckStale finalizes the active play when no snapshot has arrived
// within the stale window: DISCOVERED if it already cleared the
// threshold (covers a player closed mid-track after the threshold was
// met), ORPHANED otherwise. Called by the scheduler between polls.
func (t *Tracker) CheckStale() []*play.Record {
	if t.active == nil || t.lastSeen.IsZero() {
		return nil
	}
	if t.now().Sub(t.lastSeen) <= t.cfg.StaleAfter {
		return nil
	}

	t.log.Info().
		Str("track", t.active.Track).
		Dur("stale_after", t.cfg.StaleAfter).
		Msg("Source went silent, finalizing active play")
	discovered := t.finalizeActive()

	// Forget the poll clock: when the source recovers, the silent gap
	// must not be credited to whatever plays next.
	t.lastSeen = time.Time{}
	return discovered
}

// accrue credits elapsed observation time to the active play, bounded
// by its remaining duration when the track length is known. Listened
// time never moves once a record leaves the active slot.
func (t *Tracker) accrue(elapsed time.Duration) {
	if t.active == nil || elapsed <= 0 {
		return
	}
	add := elapsed.Seconds()
	if d := t.active.DurationSeconds; d > 0 {
		remaining := float64(d) - t.active.ListenedSeconds
		if remaining <= 0 {
			return
		}
		if add > remaining {
			add = remaining
		}
	}
	t.active.ListenedSeconds += add
}

// finalizeActive applies the discovery decision to the outgoing active
// play. Returns the play in a one-element slice if discovered, nil if
// there was no active play or it was orphaned.
func (t *Tracker) finalizeActive() []*play.Record {
	rec := t.active
	if rec == nil {
		return nil
	}
	t.active = nil

	if rec.ListenedSeconds >= t.threshold(rec) {
		rec.Discovered = true
		metrics.PlaysDiscovered.WithLabelValues(t.sourceID).Inc()
		t.log.Info().
			Str("track", rec.Track).
			Str("artist", rec.PrimaryArtist()).
			Float64("listened_seconds", rec.ListenedSeconds).
			Msg("Play discovered")
		return []*play.Record{rec}
	}

	metrics.PlaysOrphaned.WithLabelValues(t.sourceID).Inc()
	t.log.Debug().
		Str("track", rec.Track).
		Float64("listened_seconds", rec.ListenedSeconds).
		Msg("Play orphaned below discovery threshold")
	return nil
}

// threshold returns the listen-seconds bar for a record: the absolute
// threshold, or the percent-of-duration threshold when the duration is
// known and it is reached first.
func (t *Tracker) threshold(rec *play.Record) float64 {
	bar := t.cfg.DurationThreshold.Seconds()
	if rec.DurationSeconds > 0 && t.cfg.PercentThreshold > 0 {
		pct := t.cfg.PercentThreshold * float64(rec.DurationSeconds)
		if pct < bar {
			bar = pct
		}
	}
	return bar
}

// currentPlaying returns the newest activity representing in-progress
// playback. Entries carrying a finished-listen timestamp without the
// now-playing flag are history, not current state: a persistent
// recently-played feed must not keep an ended track active forever.
func currentPlaying(activities []source.RawActivity) (source.RawActivity, bool) {
	for _, a := range activities {
		if a.Track == "" || len(a.Artists) == 0 || a.Artists[0] == "" {
			continue
		}
		if a.NowPlaying || a.PlayedAt.IsZero() {
			return a, true
		}
	}
	return source.RawActivity{}, false
}
