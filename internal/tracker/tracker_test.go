// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/source"
)

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		DurationThreshold: 240 * time.Second,
		PercentThreshold:  0.5,
		StaleAfter:        120 * time.Second,
		HistorySize:       50,
	}
}

// clock drives the tracker deterministically.
type clock struct {
	t time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(cfg config.DiscoveryConfig) (*Tracker, *clock) {
	tr := New("test-source", "json", cfg)
	clk := newClock()
	tr.SetClock(clk.now)
	return tr, clk
}

func playing(track string, durationSeconds int) []source.RawActivity {
	return []source.RawActivity{{
		Track:           track,
		Artists:         []string{"Artist"},
		DurationSeconds: durationSeconds,
		NowPlaying:      true,
	}}
}

// Same-track snapshots spanning the threshold produce exactly one
// discovered record, finalized when the track changes.
func TestDiscovery_ThresholdReachedThenTrackChange(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	// Track A, duration 600s: percent threshold (300s) is above the
	// absolute one, so 240s of listening discovers it.
	var discovered []*play.Record
	discovered = append(discovered, tr.Observe(playing("Track A", 600))...)
	for i := 0; i < 4; i++ {
		clk.advance(60 * time.Second)
		discovered = append(discovered, tr.Observe(playing("Track A", 600))...)
	}
	assert.Empty(t, discovered, "no discovery while the track is still playing")

	clk.advance(60 * time.Second)
	discovered = append(discovered, tr.Observe(playing("Track B", 300))...)

	require.Len(t, discovered, 1)
	rec := discovered[0]
	assert.Equal(t, "Track A", rec.Track)
	assert.True(t, rec.Discovered)
	assert.InDelta(t, 240, rec.ListenedSeconds, 0.01)
	assert.Equal(t, "test-source", rec.Origin.SourceID)

	// Track B is the active candidate, seeded with the poll gap that
	// preceded its first observation.
	active := tr.Active()
	require.NotNil(t, active)
	assert.Equal(t, "Track B", active.Track)
	assert.InDelta(t, 60, active.ListenedSeconds, 0.01)
}

// Below-threshold plays are orphaned on track change and never leak out.
func TestOrphaned_BelowThreshold(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Short Listen", 600))
	clk.advance(60 * time.Second)
	tr.Observe(playing("Short Listen", 600))

	clk.advance(60 * time.Second)
	discovered := tr.Observe(playing("Next Track", 600))
	assert.Empty(t, discovered)
}

// Percent threshold branch: a 200s track discovered at 100s listened.
func TestDiscovery_PercentThresholdFirst(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Short Track", 200))
	clk.advance(110 * time.Second)
	tr.Observe(playing("Short Track", 200))

	clk.advance(10 * time.Second)
	discovered := tr.Observe(playing("Other", 600))
	require.Len(t, discovered, 1)
	assert.Equal(t, "Short Track", discovered[0].Track)
}

// Unknown duration: only the absolute threshold applies.
func TestDiscovery_UnknownDurationNeedsAbsoluteThreshold(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	// 230s of playback, under 240s: orphaned.
	tr.Observe(playing("Mystery", 0))
	clk.advance(230 * time.Second)
	tr.Observe(playing("Mystery", 0))
	discovered := tr.Observe(playing("Next", 0))
	assert.Empty(t, discovered)

	// 250s of playback: discovered.
	clk.advance(250 * time.Second)
	tr.Observe(playing("Next", 0))
	clk.advance(10 * time.Second)
	discovered = tr.Observe(playing("After", 0))
	require.Len(t, discovered, 1)
	assert.Equal(t, "Next", discovered[0].Track)
}

// Listened seconds never exceed the known track duration.
func TestAccrual_BoundedByDuration(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Looper", 200))
	for i := 0; i < 10; i++ {
		clk.advance(60 * time.Second)
		tr.Observe(playing("Looper", 200))
	}

	active := tr.Active()
	require.NotNil(t, active)
	assert.InDelta(t, 200, active.ListenedSeconds, 0.01)
}

// Track A (200s) reported continuously for 240s, then Track B. Track A
// is finalized before B's candidate begins.
func TestScenario_ContinuousReporting(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	for i := 0; i <= 4; i++ {
		if i > 0 {
			clk.advance(60 * time.Second)
		}
		tr.Observe(playing("Track A", 200))
	}

	discovered := tr.Observe(playing("Track B", 300))
	require.Len(t, discovered, 1)
	assert.Equal(t, "Track A", discovered[0].Track)
	// Accrual capped at the 200s duration despite 240s of wall time.
	assert.InDelta(t, 200, discovered[0].ListenedSeconds, 0.01)

	active := tr.Active()
	require.NotNil(t, active)
	assert.Equal(t, "Track B", active.Track)
}

// One poll cycle then silence past the stale window, threshold not
// reached: orphaned, zero discoveries.
func TestScenario_StaleBelowThreshold(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("One Hit", 600))

	clk.advance(121 * time.Second)
	discovered := tr.CheckStale()
	assert.Empty(t, discovered)
	assert.Nil(t, tr.Active())
}

// A stale play that already cleared the threshold is discovered without
// waiting for a track change (player closed mid-track).
func TestStale_AboveThresholdDiscovered(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Long Session", 600))
	for i := 0; i < 5; i++ {
		clk.advance(60 * time.Second)
		tr.Observe(playing("Long Session", 600))
	}

	clk.advance(121 * time.Second)
	discovered := tr.CheckStale()
	require.Len(t, discovered, 1)
	assert.Equal(t, "Long Session", discovered[0].Track)
	assert.True(t, discovered[0].Discovered)
}

// After a stale finalization the silent gap is not credited to the next
// play.
func TestStale_GapNotCreditedAfterRecovery(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Before Silence", 600))
	clk.advance(10 * time.Minute)
	tr.CheckStale()

	tr.Observe(playing("After Silence", 600))
	active := tr.Active()
	require.NotNil(t, active)
	assert.Zero(t, active.ListenedSeconds)
}

// An empty snapshot (player idle) finalizes the active play, crediting
// the last poll gap bounded by the remaining duration.
func TestIdleSnapshotFinalizes(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("Fade Out", 200))
	for i := 0; i < 3; i++ {
		clk.advance(60 * time.Second)
		tr.Observe(playing("Fade Out", 200))
	}

	clk.advance(60 * time.Second)
	discovered := tr.Observe(nil)
	require.Len(t, discovered, 1)
	assert.Equal(t, "Fade Out", discovered[0].Track)
	assert.Nil(t, tr.Active())
}

// Raw play ids distinguish an immediate replay of the same track: the
// state machine restarts and both plays are independently discoverable.
func TestImmediateReplay_NewPlayID(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	first := []source.RawActivity{{
		Track: "Repeat Me", Artists: []string{"Artist"},
		DurationSeconds: 200, NowPlaying: true, PlayID: "play-1",
	}}
	second := []source.RawActivity{{
		Track: "Repeat Me", Artists: []string{"Artist"},
		DurationSeconds: 200, NowPlaying: true, PlayID: "play-2",
	}}

	tr.Observe(first)
	clk.advance(200 * time.Second)
	tr.Observe(first)

	clk.advance(15 * time.Second)
	discovered := tr.Observe(second)
	require.Len(t, discovered, 1)

	clk.advance(200 * time.Second)
	tr.Observe(second)
	clk.advance(15 * time.Second)
	discovered = tr.Observe(nil)
	require.Len(t, discovered, 1)
}

// History entries in a recently-played feed are not current playback.
func TestHistoryEntriesIgnored(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	history := []source.RawActivity{{
		Track:    "Finished Earlier",
		Artists:  []string{"Artist"},
		PlayedAt: clk.now().Add(-time.Hour),
	}}

	discovered := tr.Observe(history)
	assert.Empty(t, discovered)
	assert.Nil(t, tr.Active())
}

// PlayedAt is inferred for now-playing-only sources.
func TestPlayedAtInference(t *testing.T) {
	tr, clk := newTestTracker(testConfig())

	tr.Observe(playing("No Timestamp", 300))
	active := tr.Active()
	require.NotNil(t, active)
	assert.Equal(t, clk.now(), active.PlayedAt)
}

// Invalid activities (no artists) are skipped, not tracked.
func TestInvalidActivitySkipped(t *testing.T) {
	tr, _ := newTestTracker(testConfig())

	discovered := tr.Observe([]source.RawActivity{{Track: "No Artist", NowPlaying: true}})
	assert.Empty(t, discovered)
	assert.Nil(t, tr.Active())
}
