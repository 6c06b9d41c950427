// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/play"
)

// DefaultListenBrainzURL is the public API root; self-hosted instances
// override it per client.
const DefaultListenBrainzURL = "https://api.listenbrainz.org"

// ListenBrainzClient submits listens to a ListenBrainz-compatible API
// with token authentication.
type ListenBrainzClient struct {
	id      string
	baseURL string
	token   string
	httpc   *http.Client
}

// NewListenBrainzClient builds the adapter from its config section.
func NewListenBrainzClient(cfg config.ClientConfig) *ListenBrainzClient {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = DefaultListenBrainzURL
	}
	return &ListenBrainzClient{
		id:      cfg.ID,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// ID implements Adapter.
func (c *ListenBrainzClient) ID() string { return c.id }

// Type implements Adapter.
func (c *ListenBrainzClient) Type() string { return "listenbrainz" }

type lbTrackMetadata struct {
	ArtistName     string         `json:"artist_name"`
	TrackName      string         `json:"track_name"`
	ReleaseName    string         `json:"release_name,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

type lbListen struct {
	ListenedAt    int64           `json:"listened_at,omitempty"`
	TrackMetadata lbTrackMetadata `json:"track_metadata"`
}

type lbSubmission struct {
	ListenType string     `json:"listen_type"`
	Payload    []lbListen `json:"payload"`
}

// Submit implements Adapter.
func (c *ListenBrainzClient) Submit(ctx context.Context, rec *play.Record) error {
	listen := toListen(rec)
	ts := rec.PlayedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	listen.ListenedAt = ts.Unix()

	return c.post(ctx, lbSubmission{ListenType: "single", Payload: []lbListen{listen}})
}

// UpdateNowPlaying implements NowPlayingUpdater. A playing_now listen
// carries no timestamp.
func (c *ListenBrainzClient) UpdateNowPlaying(ctx context.Context, rec *play.Record) error {
	return c.post(ctx, lbSubmission{ListenType: "playing_now", Payload: []lbListen{toListen(rec)}})
}

func toListen(rec *play.Record) lbListen {
	info := map[string]any{
		"submission_client": "playrelay",
	}
	if rec.DurationSeconds > 0 {
		info["duration_ms"] = rec.DurationSeconds * 1000
	}
	if mbid, ok := rec.ExternalID("musicbrainz"); ok {
		info["recording_mbid"] = mbid
	}
	if len(rec.Artists) > 1 {
		info["artist_names"] = rec.Artists
	}
	return lbListen{
		TrackMetadata: lbTrackMetadata{
			ArtistName:     rec.PrimaryArtist(),
			TrackName:      rec.Track,
			ReleaseName:    rec.Album,
			AdditionalInfo: info,
		},
	}
}

func (c *ListenBrainzClient) post(ctx context.Context, body lbSubmission) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fault.Rejected(fmt.Errorf("encode submission: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/1/submit-listens", bytes.NewReader(encoded))
	if err != nil {
		return fault.Config(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fault.FromNetwork(fmt.Errorf("submit listen: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fault.FromHTTPStatus(resp.StatusCode,
		fmt.Errorf("submit listen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
}
