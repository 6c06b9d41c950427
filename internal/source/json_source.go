// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
)

// jsonActivity is the wire shape of the generic recently-played
// endpoint. Self-hosted players expose many near-identical variants of
// this; optional fields are pointers or zero values.
type jsonActivity struct {
	Track           string   `json:"track"`
	Artist          string   `json:"artist,omitempty"`
	Artists         []string `json:"artists,omitempty"`
	Album           string   `json:"album,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	PlayedAt        int64    `json:"played_at,omitempty"` // unix seconds
	NowPlaying      bool     `json:"now_playing,omitempty"`
	PlayID          string   `json:"play_id,omitempty"`
}

type jsonEnvelope struct {
	Plays []jsonActivity `json:"plays"`
}

// JSONSource polls a generic JSON "recently played" endpoint with an
// optional bearer token. It covers self-hosted players that expose
// playback over plain HTTP without a service-specific API.
type JSONSource struct {
	id    string
	url   string
	token string
	httpc *http.Client
}

// NewJSONSource builds the adapter from its config section.
func NewJSONSource(cfg config.SourceConfig) *JSONSource {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONSource{
		id:    cfg.ID,
		url:   cfg.URL,
		token: cfg.Token,
		httpc: &http.Client{Timeout: timeout},
	}
}

// ID implements Adapter.
func (s *JSONSource) ID() string { return s.id }

// Type implements Adapter.
func (s *JSONSource) Type() string { return "json" }

// FetchRecentActivity implements Adapter. The endpoint is expected to
// return plays newest first; ordering is preserved as received.
func (s *JSONSource) FetchRecentActivity(ctx context.Context) ([]RawActivity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fault.Config(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fault.FromNetwork(fmt.Errorf("fetch %s: %w", s.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fault.FromHTTPStatus(resp.StatusCode,
			fmt.Errorf("fetch %s: unexpected status %d", s.url, resp.StatusCode))
	}

	var env jsonEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fault.Transient(fmt.Errorf("decode response: %w", err))
	}

	out := make([]RawActivity, 0, len(env.Plays))
	for _, p := range env.Plays {
		out = append(out, p.toRaw())
	}
	return out, nil
}

func (p jsonActivity) toRaw() RawActivity {
	artists := p.Artists
	if len(artists) == 0 && p.Artist != "" {
		artists = []string{p.Artist}
	}
	raw := RawActivity{
		Track:           p.Track,
		Artists:         artists,
		Album:           p.Album,
		DurationSeconds: p.DurationSeconds,
		NowPlaying:      p.NowPlaying,
		PlayID:          p.PlayID,
	}
	if p.PlayedAt > 0 {
		raw.PlayedAt = time.Unix(p.PlayedAt, 0).UTC()
	}
	return raw
}
