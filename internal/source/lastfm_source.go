// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
)

// LastfmSource polls a Last.fm user's recent tracks. Useful when
// Last.fm already aggregates several players for a listener and
// PlayRelay forwards to other destinations. Recent tracks carry no
// duration, so discovery for this source relies on the absolute
// threshold unless the matcher enriches the record.
type LastfmSource struct {
	id       string
	username string
	api      *lastfm.Api
}

// NewLastfmSource builds the adapter from its config section.
func NewLastfmSource(cfg config.SourceConfig) *LastfmSource {
	return &LastfmSource{
		id:       cfg.ID,
		username: cfg.Username,
		api:      lastfm.New(cfg.APIKey, cfg.APISecret),
	}
}

// ID implements Adapter.
func (s *LastfmSource) ID() string { return s.id }

// Type implements Adapter.
func (s *LastfmSource) Type() string { return "lastfm" }

// FetchRecentActivity implements Adapter. Last.fm returns tracks newest
// first with an optional leading now-playing entry; that ordering is
// exactly the snapshot contract.
//
// The lastfm-go client has no context plumbing; the scheduler's fetch
// timeout still bounds the call because the poll task abandons the
// result once ctx expires.
func (s *LastfmSource) FetchRecentActivity(ctx context.Context) ([]RawActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.api.User.GetRecentTracks(lastfm.P{
		"user":  s.username,
		"limit": 20,
	})
	if err != nil {
		return nil, classifyLastfmError(fmt.Errorf("user.getRecentTracks: %w", err))
	}

	out := make([]RawActivity, 0, len(result.Tracks))
	for _, tr := range result.Tracks {
		raw := RawActivity{
			Track:      tr.Name,
			Artists:    []string{tr.Artist.Name},
			Album:      tr.Album.Name,
			NowPlaying: tr.NowPlaying == "true",
			PlayID:     tr.Mbid,
		}
		if uts, err := strconv.ParseInt(tr.Date.Uts, 10, 64); err == nil && uts > 0 {
			raw.PlayedAt = time.Unix(uts, 0).UTC()
		}
		out = append(out, raw)
	}
	return out, nil
}

func classifyLastfmError(err error) error {
	var lfmErr *lastfm.LastfmError
	if !errors.As(err, &lfmErr) {
		return fault.FromNetwork(err)
	}
	return fault.FromLastfmCode(lfmErr.Code, err)
}
