// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package play defines the canonical play record shared by every stage of
// the pipeline: tracker, matcher, dedup registry and dispatch engine.
//
// A Record is mutable while it is the active play of its source's tracker
// (listened seconds accumulate) and becomes immutable the moment it is
// finalized. Downstream stages must treat discovered records as read-only.
package play

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Origin identifies where a play was observed. RawPlayID is opaque:
// whatever identity the originating system attaches to the playback
// (a session key, a queue item id, an API play id). It may be empty for
// sources that only report "currently playing".
type Origin struct {
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	RawPlayID  string `json:"raw_play_id,omitempty"`
}

// Record is the canonical, normalized representation of one listen.
type Record struct {
	ID     uuid.UUID `json:"id"`
	Track  string    `json:"track"`
	Artists []string `json:"artists"`
	Album  string    `json:"album,omitempty"`

	// DurationSeconds is the track length if known, 0 otherwise.
	DurationSeconds int `json:"duration_seconds,omitempty"`

	Origin Origin `json:"origin"`

	// ExternalIDs maps catalog name to resolved identifier
	// (e.g. "musicbrainz" -> recording MBID). Empty until the matcher
	// resolves the record; enrichment is best-effort.
	ExternalIDs map[string]string `json:"external_ids,omitempty"`

	// PlayedAt is when playback is believed to have started. Zero for
	// sources that only report "currently playing"; the tracker then
	// infers it from the first observation.
	PlayedAt time.Time `json:"played_at,omitempty"`

	// ListenedSeconds is cumulative observed playback time. It only
	// grows while the record is its source's active play and freezes on
	// finalization.
	ListenedSeconds float64 `json:"listened_seconds"`

	// Discovered is set once the tracker judges this play scrobble
	// eligible. Irreversible.
	Discovered bool `json:"discovered"`
}

// ErrNoArtists is returned when constructing a record without artists.
var ErrNoArtists = errors.New("play record requires at least one artist")

// ErrNoTrack is returned when constructing a record without a track name.
var ErrNoTrack = errors.New("play record requires a track name")

// NewRecord builds a canonical record from raw source fields. Track and
// artist strings are kept verbatim; normalization happens only inside
// dedup key derivation so the dispatched record carries original casing.
func NewRecord(track string, artists []string, origin Origin) (*Record, error) {
	if track == "" {
		return nil, ErrNoTrack
	}
	if len(artists) == 0 || artists[0] == "" {
		return nil, ErrNoArtists
	}
	return &Record{
		ID:      uuid.New(),
		Track:   track,
		Artists: append([]string(nil), artists...),
		Origin:  origin,
	}, nil
}

// PrimaryArtist returns the first credited artist.
func (r *Record) PrimaryArtist() string {
	if len(r.Artists) == 0 {
		return ""
	}
	return r.Artists[0]
}

// SetExternalID records a resolved catalog identifier.
func (r *Record) SetExternalID(catalog, id string) {
	if r.ExternalIDs == nil {
		r.ExternalIDs = make(map[string]string, 1)
	}
	r.ExternalIDs[catalog] = id
}

// ExternalID returns the identifier resolved for a catalog, if any.
func (r *Record) ExternalID(catalog string) (string, bool) {
	id, ok := r.ExternalIDs[catalog]
	return id, ok
}

// SameTrack reports whether two observations are the same playback
// content. When both sides carry a raw play id the ids decide; otherwise
// normalized track plus normalized artist set decide. Used by the tracker
// to tell "still playing" apart from "track changed".
func (r *Record) SameTrack(track string, artists []string, rawPlayID string) bool {
	if r.Origin.RawPlayID != "" && rawPlayID != "" {
		return r.Origin.RawPlayID == rawPlayID
	}
	if NormalizeTrack(r.Track) != NormalizeTrack(track) {
		return false
	}
	return NormalizeArtistKey(r.Artists) == NormalizeArtistKey(artists)
}

// Clone returns a deep copy. The dispatch engine hands clones to client
// workers so no worker can observe another's mutations.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Artists = append([]string(nil), r.Artists...)
	if r.ExternalIDs != nil {
		cp.ExternalIDs = make(map[string]string, len(r.ExternalIDs))
		for k, v := range r.ExternalIDs {
			cp.ExternalIDs[k] = v
		}
	}
	return &cp
}
