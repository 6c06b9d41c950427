// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package metrics exposes Prometheus instrumentation for every pipeline
// stage: source polling, play discovery, dedup, catalog matching and
// dispatch. Served on /metrics by the HTTP service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source polling

	SourcePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_source_polls_total",
			Help: "Snapshot fetches per source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: ok, transient, auth, config
	)

	SourcePollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playrelay_source_poll_duration_seconds",
			Help:    "Duration of snapshot fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SourceSuspended = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playrelay_source_suspended",
			Help: "1 while a source is suspended on an auth or config error",
		},
		[]string{"source"},
	)

	PushEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_push_events_total",
			Help: "Inbound webhook events per source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: accepted, rejected, dropped
	)

	// Discovery

	PlaysDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_plays_discovered_total",
			Help: "Plays that cleared the discovery threshold",
		},
		[]string{"source"},
	)

	PlaysOrphaned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_plays_orphaned_total",
			Help: "Candidate plays dropped below the discovery threshold",
		},
		[]string{"source"},
	)

	// Dedup

	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_duplicates_suppressed_total",
			Help: "Discovered plays suppressed as duplicates",
		},
		[]string{"source", "scope"}, // scope: history, global
	)

	DedupIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playrelay_dedup_index_entries",
			Help: "Live entries in the global dedup index",
		},
	)

	// Catalog matcher

	CatalogLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_catalog_lookups_total",
			Help: "Catalog lookups per outcome",
		},
		[]string{"outcome"}, // outcome: resolved, unresolved, error
	)

	// Dispatch

	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_dispatch_attempts_total",
			Help: "Submit attempts per client and outcome",
		},
		[]string{"client", "outcome"}, // outcome: ok, transient, auth, rejected
	)

	DispatchRetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_dispatch_retry_exhausted_total",
			Help: "Records permanently failed after retry exhaustion",
		},
		[]string{"client"},
	)

	ClientSuspended = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playrelay_client_suspended",
			Help: "1 while a client is suspended awaiting credential refresh",
		},
		[]string{"client"},
	)

	ClientQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playrelay_client_queue_depth",
			Help: "Pending records in a client's dispatch queue",
		},
		[]string{"client"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_records_dropped_total",
			Help: "Records dropped from full queues or hold buffers",
		},
		[]string{"client", "reason"}, // reason: queue_full, hold_overflow
	)

	// Circuit breaker (per client submit path)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playrelay_circuit_breaker_state",
			Help: "Breaker state per client: 0 closed, 1 half-open, 2 open",
		},
		[]string{"client"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playrelay_circuit_breaker_transitions_total",
			Help: "Breaker state transitions per client",
		},
		[]string{"client", "from", "to"},
	)
)
