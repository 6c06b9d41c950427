// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/dedup"
	"github.com/playrelay/playrelay/internal/dispatch"
	"github.com/playrelay/playrelay/internal/matcher"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/status"
)

type captureClient struct {
	mu     sync.Mutex
	tracks []string
}

func (c *captureClient) ID() string   { return "capture" }
func (c *captureClient) Type() string { return "capture" }

func (c *captureClient) Submit(_ context.Context, rec *play.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, rec.Track)
	return nil
}

func (c *captureClient) submitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tracks...)
}

type stubCatalog struct {
	candidates []matcher.Candidate
}

func (s *stubCatalog) Name() string { return "musicbrainz" }

func (s *stubCatalog) Search(context.Context, string, string) ([]matcher.Candidate, error) {
	return s.candidates, nil
}

func startPipeline(t *testing.T, m *matcher.Matcher) (*Pipeline, *captureClient, *status.Registry) {
	t.Helper()

	st := status.NewRegistry()
	st.RegisterSource("s1", "json")

	capture := &captureClient{}
	engine := dispatch.NewEngine(st)
	engine.AddClient(capture, config.DispatchConfig{
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		QueueSize:      16,
		HoldBufferSize: 4,
		SubmitTimeout:  time.Second,
	}, false)

	reg := dedup.NewRegistry(config.DedupConfig{
		Window:        240 * time.Second,
		Tolerance:     10 * time.Second,
		IndexCapacity: 100,
	}, 10)

	p, err := New(m, reg, engine, st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		_ = engine.Serve(ctx)
		done <- struct{}{}
	}()
	go func() {
		_ = p.Serve(ctx)
		done <- struct{}{}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	select {
	case <-p.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return p, capture, st
}

func discovered(t *testing.T, track string, playedAt time.Time) *play.Record {
	t.Helper()
	rec, err := play.NewRecord(track, []string{"Artist"}, play.Origin{SourceID: "s1", SourceType: "json"})
	require.NoError(t, err)
	rec.PlayedAt = playedAt
	rec.DurationSeconds = 300
	rec.ListenedSeconds = 250
	rec.Discovered = true
	return rec
}

func TestPipeline_DiscoveredReachesClient(t *testing.T) {
	p, capture, st := startPipeline(t, nil)

	playedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.PublishDiscovered(discovered(t, "Song A", playedAt)))

	require.Eventually(t, func() bool {
		return len(capture.submitted()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Song A"}, capture.submitted())

	assert.Eventually(t, func() bool {
		return st.Sources()[0].DispatchedCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_DuplicateSuppressed(t *testing.T) {
	p, capture, st := startPipeline(t, nil)

	playedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.PublishDiscovered(discovered(t, "Song A", playedAt)))
	require.NoError(t, p.PublishDiscovered(discovered(t, "Song A", playedAt)))

	require.Eventually(t, func() bool {
		return st.Sources()[0].DuplicateCount == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Song A"}, capture.submitted())
}

func TestPipeline_EnrichmentAttachesExternalID(t *testing.T) {
	cat := &stubCatalog{candidates: []matcher.Candidate{
		{ExternalID: "mbid-1", Score: 100, DurationSeconds: 300},
	}}
	m := matcher.New(cat, config.MatcherConfig{MinScore: 95})

	p, capture, _ := startPipeline(t, m)

	require.NoError(t, p.PublishDiscovered(discovered(t, "Song A", time.Now().UTC())))
	require.Eventually(t, func() bool {
		return len(capture.submitted()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipeline_UndecodableMessageDropped(t *testing.T) {
	p, capture, _ := startPipeline(t, nil)

	require.NoError(t, p.pubsub.Publish(TopicDiscovered,
		message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, p.PublishDiscovered(discovered(t, "Song B", time.Now().UTC())))

	require.Eventually(t, func() bool {
		return len(capture.submitted()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Song B"}, capture.submitted())
}

func TestPipeline_NowPlayingForwarded(t *testing.T) {
	p, capture, _ := startPipeline(t, nil)

	// The capture client does not implement now-playing updates, so the
	// forward is a no-op; the point is the topic routes without error
	// and never produces a scrobble.
	require.NoError(t, p.PublishNowPlaying(discovered(t, "Song A", time.Time{})))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, capture.submitted())
}
