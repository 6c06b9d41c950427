// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package scheduler drives each source adapter on its own interval.
// One Poller per source; each owns that source's tracker exclusively,
// so discovery state never needs cross-source locking.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/source"
	"github.com/playrelay/playrelay/internal/status"
	"github.com/playrelay/playrelay/internal/tracker"
)

// Publisher is the bus surface the poller needs. Satisfied by
// pipeline.Pipeline.
type Publisher interface {
	PublishDiscovered(rec *play.Record) error
	PublishNowPlaying(rec *play.Record) error
}

// Poller polls one source and feeds its tracker. Implements
// suture.Service; an auth or config failure suspends the source by
// terminating the service without restart.
type Poller struct {
	adapter source.Adapter
	tracker *tracker.Tracker
	bus     Publisher
	status  *status.Registry

	// push marks adapters fed by inbound events. For them an empty
	// drain means no events arrived since the last drain, not that
	// playback stopped.
	push bool

	interval     time.Duration
	fetchTimeout time.Duration
	log          zerolog.Logger
}

// NewPoller builds a poller for src. The configured interval floor has
// already been enforced by config validation.
func NewPoller(adapter source.Adapter, trk *tracker.Tracker, bus Publisher, st *status.Registry, src config.SourceConfig) *Poller {
	interval := src.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	fetchTimeout := src.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	_, push := adapter.(source.PushAdapter)
	return &Poller{
		adapter:      adapter,
		tracker:      trk,
		bus:          bus,
		status:       st,
		push:         push,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		log: logging.Logger().With().
			Str("component", "scheduler").
			Str("source", adapter.ID()).
			Logger(),
	}
}

// Serve implements suture.Service. It polls until ctx is canceled or
// the source fails unrecoverably.
func (p *Poller) Serve(ctx context.Context) error {
	// Spread initial polls so sources sharing an interval do not fetch
	// in lockstep.
	if n := int64(p.interval) / 10; n > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(n))):
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll runs one fetch-observe cycle. A non-nil return suspends the
// source permanently.
func (p *Poller) poll(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	start := time.Now()
	activities, err := p.adapter.FetchRecentActivity(fctx)
	cancel()
	metrics.SourcePollDuration.WithLabelValues(p.adapter.ID()).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.handleFetchError(err)
	}

	metrics.SourcePolls.WithLabelValues(p.adapter.ID(), "ok").Inc()

	if p.push && len(activities) == 0 {
		// A drain with nothing pushed carries no playback state. Do not
		// feed it to the tracker as an idle snapshot; only the stale
		// window may finalize the active play.
		for _, rec := range p.tracker.CheckStale() {
			p.publish(rec)
		}
		return nil
	}
	p.status.SourceActive(p.adapter.ID())

	for _, rec := range p.tracker.Observe(activities) {
		p.publish(rec)
	}
	if active := p.tracker.Active(); active != nil {
		if err := p.bus.PublishNowPlaying(active); err != nil {
			p.log.Debug().Err(err).Msg("Now-playing publish failed")
		}
	}
	return nil
}

// handleFetchError applies the error policy: transient failures leave
// tracker state untouched and wait for the next tick, but a stale
// active play is still finalized; auth and config failures suspend the
// source.
func (p *Poller) handleFetchError(err error) error {
	kind := fault.KindOf(err)
	metrics.SourcePolls.WithLabelValues(p.adapter.ID(), kind.String()).Inc()
	p.status.SourceFailed(p.adapter.ID(), err)

	switch kind {
	case fault.KindAuth, fault.KindConfig:
		metrics.SourceSuspended.WithLabelValues(p.adapter.ID()).Set(1)
		p.log.Error().
			Err(err).
			Str("kind", kind.String()).
			Msg("Source suspended, polling stopped until credentials or config are fixed")
		for _, rec := range p.tracker.CheckStale() {
			p.publish(rec)
		}
		return suture.ErrDoNotRestart

	default:
		p.log.Warn().
			Err(err).
			Msg("Snapshot fetch failed, retrying on next tick")
		for _, rec := range p.tracker.CheckStale() {
			p.publish(rec)
		}
		return nil
	}
}

func (p *Poller) publish(rec *play.Record) {
	if err := p.bus.PublishDiscovered(rec); err != nil {
		p.log.Error().
			Err(err).
			Str("track", rec.Track).
			Msg("Discovered play publish failed, play lost")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (p *Poller) String() string { return "poller-" + p.adapter.ID() }
