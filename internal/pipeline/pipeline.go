// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package pipeline connects discovery to dispatch over an in-process
// message bus. Source pollers publish; a single consumer goroutine
// runs enrichment and deduplication, which keeps the dedup registry
// single-writer without locking across source tasks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/playrelay/playrelay/internal/dedup"
	"github.com/playrelay/playrelay/internal/dispatch"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/matcher"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/status"
)

// Bus topics.
const (
	TopicDiscovered = "plays.discovered"
	TopicNowPlaying = "plays.nowplaying"
)

// sweepEvery bounds how often the consumer prunes the dedup index.
const sweepEvery = 100

// Pipeline owns the bus, the router and the consumer handlers.
type Pipeline struct {
	pubsub  *gochannel.GoChannel
	router  *message.Router
	matcher *matcher.Matcher
	dedup   *dedup.Registry
	engine  *dispatch.Engine
	status  *status.Registry

	handled int
}

// New wires the bus. m may be nil when catalog enrichment is disabled.
func New(m *matcher.Matcher, reg *dedup.Registry, engine *dispatch.Engine, st *status.Registry) (*Pipeline, error) {
	logger := newBusLogger()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	p := &Pipeline{
		pubsub:  pubsub,
		router:  router,
		matcher: m,
		dedup:   reg,
		engine:  engine,
		status:  st,
	}

	router.AddNoPublisherHandler("discovered-plays", TopicDiscovered, pubsub, p.handleDiscovered)
	router.AddNoPublisherHandler("now-playing-updates", TopicNowPlaying, pubsub, p.handleNowPlaying)
	return p, nil
}

// PublishDiscovered hands a finalized play to the consumer.
func (p *Pipeline) PublishDiscovered(rec *play.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode play: %w", err)
	}
	return p.pubsub.Publish(TopicDiscovered, message.NewMessage(watermill.NewUUID(), payload))
}

// PublishNowPlaying forwards a currently-playing observation.
func (p *Pipeline) PublishNowPlaying(rec *play.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode play: %w", err)
	}
	return p.pubsub.Publish(TopicNowPlaying, message.NewMessage(watermill.NewUUID(), payload))
}

// Serve runs the router until ctx is canceled. Implements
// suture.Service.
func (p *Pipeline) Serve(ctx context.Context) error {
	defer func() {
		_ = p.pubsub.Close()
	}()
	return p.router.Run(ctx)
}

// Running returns a channel closed once the router's handlers are
// subscribed; publishes before that are dropped by the bus.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// handleDiscovered is the single consumer for finalized plays:
// enrichment, deduplication, then dispatch fan-out. Errors are not
// returned; a play that cannot be decoded is dropped and every later
// stage handles its own failures.
func (p *Pipeline) handleDiscovered(msg *message.Message) error {
	var rec play.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		logging.Error().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("Undecodable play on bus, dropping")
		return nil
	}

	if p.matcher != nil {
		p.matcher.Enrich(msg.Context(), &rec)
	}

	if dup, scope := p.dedup.CheckAndRecord(&rec); dup {
		p.status.DuplicateSuppressed(rec.Origin.SourceID)
		logging.Debug().
			Str("track", rec.Track).
			Str("source", rec.Origin.SourceID).
			Str("scope", scope).
			Msg("Duplicate listen suppressed")
		return nil
	}

	p.status.SourceDispatched(rec.Origin.SourceID)
	p.engine.Dispatch(&rec)

	p.handled++
	if p.handled%sweepEvery == 0 {
		p.dedup.Sweep()
	}
	return nil
}

func (p *Pipeline) handleNowPlaying(msg *message.Message) error {
	var rec play.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return nil
	}
	p.engine.NowPlaying(msg.Context(), &rec)
	return nil
}
