// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package matcher resolves discovered plays against an external catalog
// to attach a stable recording identifier. Enrichment is best-effort:
// lookup failures and low-confidence candidates leave the record
// unresolved and never block dispatch.
package matcher

import (
	"context"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
)

// Candidate is one ranked catalog result.
type Candidate struct {
	ExternalID      string
	Title           string
	Artist          string
	Score           int
	DurationSeconds int
}

// Catalog is the lookup capability the matcher consumes. Results come
// back ranked best-first.
type Catalog interface {
	// Name is the catalog identifier used as the external-id key on
	// enriched records ("musicbrainz").
	Name() string

	Search(ctx context.Context, track, artist string) ([]Candidate, error)
}

// Matcher applies the acceptance policy on top of a Catalog: the top
// candidate is taken only when its score clears the configured minimum
// and it reports a duration. A candidate without a duration is usually
// a stub entry and matching it would poison downstream dedup windows.
type Matcher struct {
	catalog  Catalog
	minScore int
}

// New builds a matcher over catalog with cfg's acceptance threshold.
func New(catalog Catalog, cfg config.MatcherConfig) *Matcher {
	return &Matcher{catalog: catalog, minScore: cfg.MinScore}
}

// Enrich attempts to resolve rec in place. It returns true when an
// external id was attached. Records that already carry an id for this
// catalog are left untouched.
func (m *Matcher) Enrich(ctx context.Context, rec *play.Record) bool {
	if _, ok := rec.ExternalID(m.catalog.Name()); ok {
		return true
	}

	candidates, err := m.catalog.Search(ctx, rec.Track, rec.PrimaryArtist())
	if err != nil {
		logging.Debug().
			Err(err).
			Str("track", rec.Track).
			Str("artist", rec.PrimaryArtist()).
			Msg("Catalog lookup failed, continuing unresolved")
		metrics.CatalogLookups.WithLabelValues("error").Inc()
		return false
	}

	best, ok := m.accept(candidates)
	if !ok {
		metrics.CatalogLookups.WithLabelValues("unresolved").Inc()
		return false
	}

	rec.SetExternalID(m.catalog.Name(), best.ExternalID)
	if rec.DurationSeconds == 0 && best.DurationSeconds > 0 {
		rec.DurationSeconds = best.DurationSeconds
	}
	metrics.CatalogLookups.WithLabelValues("resolved").Inc()
	logging.Debug().
		Str("track", rec.Track).
		Str("external_id", best.ExternalID).
		Int("score", best.Score).
		Msg("Play resolved against catalog")
	return true
}

func (m *Matcher) accept(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.Score < m.minScore {
			// Ranked best-first; nothing below clears the bar either.
			break
		}
		if c.DurationSeconds > 0 && c.ExternalID != "" {
			return c, true
		}
	}
	return Candidate{}, false
}
