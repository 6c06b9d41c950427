// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package main is the entry point for the PlayRelay server.
//
// PlayRelay watches configured playback sources, decides which observed
// plays count as real listens, and forwards them to scrobble
// destinations such as Last.fm and ListenBrainz.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: YAML file plus PLAYRELAY_* environment overrides
//     (Koanf v2), validated before anything starts
//  2. Dispatch engine: one worker and bounded queue per destination
//     client, each submit path behind a circuit breaker
//  3. Pipeline: in-process Watermill bus whose single consumer runs
//     catalog enrichment and deduplication before dispatch fan-out
//  4. Source pollers: one supervised task per source, each owning its
//     discovery state machine
//  5. HTTP server: health, status export, webhook ingestion and
//     Prometheus metrics
//
// Everything runs under a suture supervisor tree with per-layer failure
// isolation; a crashing poller never takes down dispatch or the API.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: pollers stop first
// with the supervisor tree, in-flight HTTP requests drain, and dispatch
// workers abandon pending retries.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/playrelay/playrelay/internal/api"
	"github.com/playrelay/playrelay/internal/client"
	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/dedup"
	"github.com/playrelay/playrelay/internal/dispatch"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/matcher"
	"github.com/playrelay/playrelay/internal/pipeline"
	"github.com/playrelay/playrelay/internal/scheduler"
	"github.com/playrelay/playrelay/internal/source"
	"github.com/playrelay/playrelay/internal/status"
	"github.com/playrelay/playrelay/internal/supervisor"
	"github.com/playrelay/playrelay/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Configuration load failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("PlayRelay starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree, err := buildTree(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Startup wiring failed")
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
			for _, svc := range report {
				logging.Warn().Str("service", svc.Name).Msg("Service did not stop")
			}
		}
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("PlayRelay stopped")
}

// buildTree wires every component from the validated configuration.
func buildTree(cfg *config.Config) (*supervisor.Tree, error) {
	st := status.NewRegistry()

	// Destination clients.
	engine := dispatch.NewEngine(st)
	clientReg := client.DefaultRegistry()
	for _, cl := range cfg.Clients {
		if !cl.Enabled {
			continue
		}
		adapter, err := clientReg.Build(cl)
		if err != nil {
			return nil, err
		}
		engine.AddClient(adapter, cfg.ResolveDispatch(cl), cl.NowPlaying)
		logging.Info().
			Str("client", cl.ID).
			Str("type", cl.Type).
			Msg("Client registered")
	}

	// Enrichment and dedup behind the bus consumer.
	var m *matcher.Matcher
	if cfg.Matcher.Enabled {
		m = matcher.New(matcher.NewMusicBrainzCatalog(cfg.Matcher), cfg.Matcher)
	}
	registry := dedup.NewRegistry(cfg.Dedup, cfg.Discovery.HistorySize)

	pipe, err := pipeline.New(m, registry, engine, st)
	if err != nil {
		return nil, err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipeline(pipe)
	tree.AddPipeline(engine)

	// Source pollers.
	sourceReg := source.DefaultRegistry()
	webhooks := make(map[string]*source.WebhookSource)
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		adapter, err := sourceReg.Build(src)
		if err != nil {
			return nil, err
		}
		if hook, ok := adapter.(*source.WebhookSource); ok {
			webhooks[src.ID] = hook
		}
		st.RegisterSource(src.ID, src.Type)

		trk := tracker.New(src.ID, src.Type, cfg.Resolve(src))
		tree.AddSource(scheduler.NewPoller(adapter, trk, pipe, st, src))
		logging.Info().
			Str("source", src.ID).
			Str("type", src.Type).
			Dur("interval", src.PollInterval).
			Msg("Source registered")
	}

	router := api.NewRouter(cfg.Server, st, engine, webhooks)
	tree.AddAPI(api.NewServer(cfg.Server, router.Handler()))
	return tree, nil
}
