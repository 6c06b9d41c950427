// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/status"
)

// scriptedClient returns the scripted errors in order, then succeeds.
type scriptedClient struct {
	mu     sync.Mutex
	id     string
	script []error
	calls  []string
}

func (s *scriptedClient) ID() string   { return s.id }
func (s *scriptedClient) Type() string { return "scripted" }

func (s *scriptedClient) Submit(_ context.Context, rec *play.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec.Track)
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

func (s *scriptedClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedClient) callTracks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func testCfg() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts:    5,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		QueueSize:      16,
		HoldBufferSize: 3,
		SubmitTimeout:  time.Second,
	}
}

func record(t *testing.T, track string) *play.Record {
	t.Helper()
	rec, err := play.NewRecord(track, []string{"Artist"}, play.Origin{SourceID: "s1", SourceType: "json"})
	require.NoError(t, err)
	rec.PlayedAt = time.Now().UTC()
	return rec
}

func startEngine(t *testing.T, clients ...*scriptedClient) (*Engine, *status.Registry) {
	t.Helper()
	st := status.NewRegistry()
	e := NewEngine(st)
	for _, c := range clients {
		e.AddClient(c, testCfg(), false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, st
}

func TestEngine_SuccessFirstAttempt(t *testing.T) {
	c := &scriptedClient{id: "c1"}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song A"))

	require.Eventually(t, func() bool { return c.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return st.Clients()[0].DispatchedCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_TransientRetriedThenSucceeds(t *testing.T) {
	c := &scriptedClient{id: "c1", script: []error{
		fault.Transient(errors.New("timeout")),
		fault.Transient(errors.New("timeout")),
	}}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song A"))

	require.Eventually(t, func() bool { return c.callCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		cl := st.Clients()[0]
		return cl.DispatchedCount == 1 && cl.PermanentFailureCount == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_TransientExhaustsAttempts(t *testing.T) {
	script := make([]error, 10)
	for i := range script {
		script[i] = fault.Transient(errors.New("still down"))
	}
	c := &scriptedClient{id: "c1", script: script}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song A"))

	require.Eventually(t, func() bool {
		return st.Clients()[0].PermanentFailureCount == 1
	}, time.Second, 5*time.Millisecond)

	// Exactly MaxAttempts submits, never more.
	assert.Equal(t, 5, c.callCount())
}

func TestEngine_RejectedNotRetried(t *testing.T) {
	c := &scriptedClient{id: "c1", script: []error{
		fault.Rejected(errors.New("malformed track")),
	}}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song A"))

	require.Eventually(t, func() bool {
		return st.Clients()[0].PermanentFailureCount == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.callCount())
	assert.Equal(t, "rejected", st.Clients()[0].LastError)
}

func TestEngine_AuthSuspendsAndReplays(t *testing.T) {
	c := &scriptedClient{id: "c1", script: []error{
		fault.Auth(errors.New("session expired")),
	}}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song A"))
	require.Eventually(t, func() bool {
		return !st.Clients()[0].Healthy
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.callCount())

	// Records arriving during suspension are held, not submitted.
	e.Dispatch(record(t, "Song B"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.callCount())

	// Credential refreshed: held records replay in discovery order.
	require.True(t, e.MarkHealthy("c1"))
	require.Eventually(t, func() bool { return c.callCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Song A", "Song A", "Song B"}, c.callTracks())
	assert.True(t, st.Clients()[0].Healthy)
	assert.Equal(t, uint64(2), st.Clients()[0].DispatchedCount)
}

func TestEngine_HoldBufferDropsOldest(t *testing.T) {
	c := &scriptedClient{id: "c1", script: []error{
		fault.Auth(errors.New("session expired")),
	}}
	e, st := startEngine(t, c)

	e.Dispatch(record(t, "Song 1"))
	require.Eventually(t, func() bool {
		return !st.Clients()[0].Healthy
	}, time.Second, 5*time.Millisecond)

	// Hold capacity is 3 and "Song 1" already occupies a slot.
	for _, track := range []string{"Song 2", "Song 3", "Song 4"} {
		e.Dispatch(record(t, track))
	}
	require.Eventually(t, func() bool { return c.callCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.True(t, e.MarkHealthy("c1"))
	require.Eventually(t, func() bool { return c.callCount() == 4 }, time.Second, 5*time.Millisecond)

	// "Song 1" was the oldest held record and got dropped: its only
	// submit is the failed auth attempt, never a replay.
	assert.Equal(t, []string{"Song 1", "Song 2", "Song 3", "Song 4"}, c.callTracks())
	assert.Equal(t, uint64(3), st.Clients()[0].DispatchedCount)
}

func TestEngine_ClientIsolation(t *testing.T) {
	healthy := &scriptedClient{id: "good"}
	broken := &scriptedClient{id: "bad", script: []error{
		fault.Auth(errors.New("expired")),
	}}
	e, st := startEngine(t, healthy, broken)

	e.Dispatch(record(t, "Song A"))
	e.Dispatch(record(t, "Song B"))

	require.Eventually(t, func() bool { return healthy.callCount() == 2 }, time.Second, 5*time.Millisecond)

	clients := st.Clients()
	require.Len(t, clients, 2)
	assert.False(t, clients[0].Healthy) // "bad" sorts first
	assert.Equal(t, uint64(2), clients[1].DispatchedCount)
}

func TestEngine_MarkHealthyUnknownClient(t *testing.T) {
	e, _ := startEngine(t, &scriptedClient{id: "c1"})
	assert.False(t, e.MarkHealthy("nobody"))
}

func TestWorker_Backoff(t *testing.T) {
	w := &worker{cfg: config.DispatchConfig{
		BackoffBase: time.Second,
		BackoffCap:  60 * time.Second,
	}}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, w.backoff(i+1), "failed attempts %d", i+1)
	}
}

type nowPlayingClient struct {
	scriptedClient
	npTracks []string
}

func (n *nowPlayingClient) UpdateNowPlaying(_ context.Context, rec *play.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.npTracks = append(n.npTracks, rec.Track)
	return nil
}

func (n *nowPlayingClient) nowPlayingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.npTracks)
}

func TestEngine_NowPlayingForwarding(t *testing.T) {
	optIn := &nowPlayingClient{scriptedClient: scriptedClient{id: "np"}}
	optOut := &nowPlayingClient{scriptedClient: scriptedClient{id: "plain"}}

	st := status.NewRegistry()
	e := NewEngine(st)
	e.AddClient(optIn, testCfg(), true)
	e.AddClient(optOut, testCfg(), false)

	e.NowPlaying(context.Background(), record(t, "Song A"))

	assert.Equal(t, 1, optIn.nowPlayingCount())
	assert.Zero(t, optOut.nowPlayingCount())
	assert.Zero(t, optIn.callCount())
}
