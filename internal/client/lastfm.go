// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/play"
)

// LastfmClient submits listens to Last.fm with a pre-authorized session
// key. The interactive authorization flow that produces the key is
// outside the core; the key arrives through configuration as an opaque
// credential.
type LastfmClient struct {
	id  string
	api *lastfm.Api
}

// NewLastfmClient builds the adapter from its config section.
func NewLastfmClient(cfg config.ClientConfig) *LastfmClient {
	api := lastfm.New(cfg.APIKey, cfg.APISecret)
	api.SetSession(cfg.SessionKey)
	return &LastfmClient{id: cfg.ID, api: api}
}

// ID implements Adapter.
func (c *LastfmClient) ID() string { return c.id }

// Type implements Adapter.
func (c *LastfmClient) Type() string { return "lastfm" }

// Submit implements Adapter.
func (c *LastfmClient) Submit(ctx context.Context, rec *play.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := scrobbleParams(rec)
	ts := rec.PlayedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	params["timestamp"] = strconv.FormatInt(ts.Unix(), 10)

	if _, err := c.api.Track.Scrobble(params); err != nil {
		return classifyLastfmError(fmt.Errorf("track.scrobble: %w", err))
	}
	return nil
}

// UpdateNowPlaying implements NowPlayingUpdater.
func (c *LastfmClient) UpdateNowPlaying(ctx context.Context, rec *play.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Track.UpdateNowPlaying(scrobbleParams(rec)); err != nil {
		return classifyLastfmError(fmt.Errorf("track.updateNowPlaying: %w", err))
	}
	return nil
}

func scrobbleParams(rec *play.Record) lastfm.P {
	params := lastfm.P{
		"artist": rec.PrimaryArtist(),
		"track":  rec.Track,
	}
	if rec.Album != "" {
		params["album"] = rec.Album
	}
	if rec.DurationSeconds > 0 {
		params["duration"] = strconv.Itoa(rec.DurationSeconds)
	}
	if len(rec.Artists) > 1 {
		params["albumArtist"] = strings.Join(rec.Artists, ", ")
	}
	if mbid, ok := rec.ExternalID("musicbrainz"); ok {
		params["mbid"] = mbid
	}
	return params
}

func classifyLastfmError(err error) error {
	var lfmErr *lastfm.LastfmError
	if !errors.As(err, &lfmErr) {
		return fault.FromNetwork(err)
	}
	return fault.FromLastfmCode(lfmErr.Code, err)
}
