// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package play

import (
	"sort"
	"strings"
	"time"
)

// featSeparators are the joined-artist markers split off during
// normalization. Sources disagree on how featured artists are credited
// ("A feat. B" as one artist vs two artist entries), so dedup keys must
// not depend on the difference.
var featSeparators = []string{" feat. ", " feat ", " ft. ", " ft ", " featuring "}

// NormalizeTrack canonicalizes a track title for identity comparison:
// lowercase, collapsed whitespace. Parenthesized qualifiers are kept --
// "song (live)" and "song" are genuinely different recordings.
func NormalizeTrack(track string) string {
	return strings.Join(strings.Fields(strings.ToLower(track)), " ")
}

// NormalizeArtists canonicalizes an artist list: each entry lowercased
// with collapsed whitespace, joined-artist credits split on featuring
// markers, empties dropped.
func NormalizeArtists(artists []string) []string {
	out := make([]string, 0, len(artists))
	for _, a := range artists {
		for _, part := range splitFeaturing(a) {
			norm := strings.Join(strings.Fields(strings.ToLower(part)), " ")
			if norm != "" {
				out = append(out, norm)
			}
		}
	}
	return out
}

// NormalizeArtistKey returns an order-independent identity string for an
// artist list. Two sources may report the same credits in different
// order.
func NormalizeArtistKey(artists []string) string {
	norm := NormalizeArtists(artists)
	sort.Strings(norm)
	return strings.Join(norm, "\x1f")
}

func splitFeaturing(artist string) []string {
	lower := strings.ToLower(artist)
	for _, sep := range featSeparators {
		if idx := strings.Index(lower, sep); idx >= 0 {
			return []string{artist[:idx], artist[idx+len(sep):]}
		}
	}
	return []string{artist}
}

// DedupToleranceDefault is the playedAt rounding window for key
// derivation. Two observations of the same physical listen rarely agree
// on the exact start second across sources.
const DedupToleranceDefault = 10 * time.Second

// DedupKey derives the cross-source identity of a listen: normalized
// track, normalized artist set and the start time rounded to the
// tolerance window. Records without a known start time key on the zero
// time; the per-source history then carries the dedup burden for them.
func DedupKey(r *Record, tolerance time.Duration) string {
	if tolerance <= 0 {
		tolerance = DedupToleranceDefault
	}
	var ts int64
	if !r.PlayedAt.IsZero() {
		ts = r.PlayedAt.Round(tolerance).Unix()
	}
	var b strings.Builder
	b.WriteString(NormalizeTrack(r.Track))
	b.WriteByte('\x1e')
	b.WriteString(NormalizeArtistKey(r.Artists))
	b.WriteByte('\x1e')
	b.WriteString(formatUnix(ts))
	return b.String()
}

func formatUnix(ts int64) string {
	// strconv would do; time keeps the zero case readable in logs.
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
