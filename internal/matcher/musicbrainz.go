// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package matcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
)

// MusicBrainzCatalog queries the MusicBrainz recording search API.
// Requests are throttled with a token-bucket limiter; the public
// service allows one request per second per client and identifies
// clients by User-Agent.
type MusicBrainzCatalog struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	httpc     *http.Client
}

// NewMusicBrainzCatalog builds a catalog client from cfg.
func NewMusicBrainzCatalog(cfg config.MatcherConfig) *MusicBrainzCatalog {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MusicBrainzCatalog{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		httpc:     &http.Client{Timeout: timeout},
	}
}

// Name implements Catalog.
func (c *MusicBrainzCatalog) Name() string { return "musicbrainz" }

type mbArtistCredit struct {
	Name string `json:"name"`
}

type mbRecording struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Score        int              `json:"score"`
	LengthMillis int              `json:"length"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
}

type mbSearchResponse struct {
	Recordings []mbRecording `json:"recordings"`
}

// Search implements Catalog. Candidates come back in MusicBrainz score
// order, best first.
func (c *MusicBrainzCatalog) Search(ctx context.Context, track, artist string) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`recording:%q AND artist:%q`, track, artist)
	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/recording?"+params.Encode(), nil)
	if err != nil {
		return nil, fault.Config(fmt.Errorf("build catalog request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fault.FromNetwork(fmt.Errorf("catalog search: %w", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromHTTPStatus(resp.StatusCode,
			fmt.Errorf("catalog search: status %d", resp.StatusCode))
	}

	var body mbSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fault.Transient(fmt.Errorf("decode catalog response: %w", err))
	}

	out := make([]Candidate, 0, len(body.Recordings))
	for _, r := range body.Recordings {
		name := ""
		if len(r.ArtistCredit) > 0 {
			name = r.ArtistCredit[0].Name
		}
		out = append(out, Candidate{
			ExternalID:      r.ID,
			Title:           r.Title,
			Artist:          name,
			Score:           r.Score,
			DurationSeconds: r.LengthMillis / 1000,
		})
	}
	return out, nil
}
