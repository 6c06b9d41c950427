// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package config loads and validates the service configuration.
//
// Layering, lowest priority first: struct defaults, YAML config file,
// environment variables (PLAYRELAY_ prefix). The resulting Config is
// treated as immutable; sources and clients receive their sections at
// construction time and never re-read them.
package config

import (
	"time"
)

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Dedup     DedupConfig     `koanf:"dedup"`
	Matcher   MatcherConfig   `koanf:"matcher"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Sources   []SourceConfig  `koanf:"sources" validate:"dive"`
	Clients   []ClientConfig  `koanf:"clients" validate:"dive"`
}

// ServerConfig configures the HTTP surface (status export, webhook
// ingestion, metrics).
type ServerConfig struct {
	ListenAddr string `koanf:"listen_addr"`

	// CORSOrigins is the allowed origin list for the status API.
	CORSOrigins []string `koanf:"cors_origins"`

	// WebhookRateLimit caps inbound webhook requests per source per
	// minute.
	WebhookRateLimit int `koanf:"webhook_rate_limit"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors internal/logging.Config without importing it;
// config stays a leaf package.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DiscoveryConfig holds the default play-discovery thresholds. Each
// source may override any field it sets to a non-zero value.
type DiscoveryConfig struct {
	// DurationThreshold is the absolute listen time after which a play
	// counts regardless of track length.
	DurationThreshold time.Duration `koanf:"duration_threshold"`

	// PercentThreshold is the fraction of a known track duration after
	// which a play counts. A play is discovered when the first of the
	// two thresholds is reached.
	PercentThreshold float64 `koanf:"percent_threshold" validate:"gte=0,lte=1"`

	// StaleAfter marks a source's active play stale when no snapshot
	// arrives for this long. Zero means 2x the source poll interval.
	StaleAfter time.Duration `koanf:"stale_after"`

	// HistorySize bounds each source's recently-discovered ring.
	HistorySize int `koanf:"history_size" validate:"gte=0"`
}

// DedupConfig bounds the cross-source duplicate window.
type DedupConfig struct {
	// Window is the fallback dedup window when a record has no known
	// duration; with a known duration the window is the track length.
	Window time.Duration `koanf:"window"`

	// Tolerance rounds playedAt during key derivation.
	Tolerance time.Duration `koanf:"tolerance"`

	// IndexCapacity bounds the global seen-index.
	IndexCapacity int `koanf:"index_capacity" validate:"gte=0"`
}

// MatcherConfig configures best-effort catalog enrichment.
type MatcherConfig struct {
	Enabled bool `koanf:"enabled"`

	// MinScore is the minimum candidate match score (0-100) accepted.
	MinScore int `koanf:"min_score" validate:"gte=0,lte=100"`

	BaseURL   string `koanf:"base_url" validate:"omitempty,url"`
	UserAgent string `koanf:"user_agent"`

	// RequestsPerSecond throttles catalog lookups; MusicBrainz asks for
	// at most one request per second.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`

	Timeout time.Duration `koanf:"timeout"`
}

// DispatchConfig holds engine-wide dispatch policy. Per-client limits
// override where set.
type DispatchConfig struct {
	// MaxAttempts is the total submit attempts per record per client.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=1"`

	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`

	// QueueSize bounds each client's pending-record queue.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`

	// HoldBufferSize bounds records held while a client is suspended
	// on an auth failure. Oldest dropped beyond this.
	HoldBufferSize int `koanf:"hold_buffer_size" validate:"gte=1"`

	// SubmitTimeout bounds a single submit network call, independent of
	// the retry policy.
	SubmitTimeout time.Duration `koanf:"submit_timeout"`
}

// SourceConfig configures one source adapter instance.
type SourceConfig struct {
	ID      string `koanf:"id" validate:"required"`
	Type    string `koanf:"type" validate:"required,oneof=json lastfm webhook"`
	Enabled bool   `koanf:"enabled"`

	// PollInterval drives the source's scheduler task. Values below
	// MinPollInterval are raised with a warning. Ignored by push
	// sources.
	PollInterval time.Duration `koanf:"poll_interval"`

	// FetchTimeout bounds one snapshot call.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// URL and Token drive the generic JSON source.
	URL   string `koanf:"url" validate:"omitempty,url"`
	Token string `koanf:"token"`

	// Last.fm source credentials.
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
	Username  string `koanf:"username"`

	// WebhookSecret authenticates inbound pushes for webhook sources.
	WebhookSecret string `koanf:"webhook_secret"`

	// Per-source discovery overrides; zero values fall back to the
	// global DiscoveryConfig.
	Discovery DiscoveryConfig `koanf:"discovery"`
}

// ClientConfig configures one destination adapter instance.
type ClientConfig struct {
	ID      string `koanf:"id" validate:"required"`
	Type    string `koanf:"type" validate:"required,oneof=lastfm listenbrainz"`
	Enabled bool   `koanf:"enabled"`

	// Last.fm client credentials.
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`

	// ListenBrainz client credentials.
	Token string `koanf:"token"`
	URL   string `koanf:"url" validate:"omitempty,url"`

	// Per-client dispatch overrides; zero falls back to DispatchConfig.
	MaxAttempts    int `koanf:"max_attempts" validate:"gte=0"`
	QueueSize      int `koanf:"queue_size" validate:"gte=0"`
	HoldBufferSize int `koanf:"hold_buffer_size" validate:"gte=0"`

	// NowPlaying forwards "currently playing" updates to destinations
	// that support them. Best-effort, never retried.
	NowPlaying bool `koanf:"now_playing"`
}

// MinPollInterval is the enforced floor for source polling. Configured
// intervals below it are raised with a warning.
const MinPollInterval = 15 * time.Second

// DefaultPollInterval is used when a source does not set one.
const DefaultPollInterval = 60 * time.Second

// defaultConfig returns the full default tree. Applied first, then
// overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8573",
			CORSOrigins:      nil,
			WebhookRateLimit: 120,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Discovery: DiscoveryConfig{
			DurationThreshold: 240 * time.Second,
			PercentThreshold:  0.5,
			StaleAfter:        0, // per source: 2x poll interval
			HistorySize:       50,
		},
		Dedup: DedupConfig{
			Window:        240 * time.Second,
			Tolerance:     10 * time.Second,
			IndexCapacity: 10000,
		},
		Matcher: MatcherConfig{
			Enabled:           false,
			MinScore:          95,
			BaseURL:           "https://musicbrainz.org/ws/2",
			UserAgent:         "playrelay/1.0 (https://github.com/playrelay/playrelay)",
			RequestsPerSecond: 1,
			Timeout:           30 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    5,
			BackoffBase:    time.Second,
			BackoffCap:     60 * time.Second,
			QueueSize:      256,
			HoldBufferSize: 100,
			SubmitTimeout:  30 * time.Second,
		},
	}
}

// Resolve returns the discovery settings for a source: per-source
// overrides applied over the global defaults, stale fallback computed
// from the poll interval.
func (c *Config) Resolve(src SourceConfig) DiscoveryConfig {
	out := c.Discovery
	if src.Discovery.DurationThreshold > 0 {
		out.DurationThreshold = src.Discovery.DurationThreshold
	}
	if src.Discovery.PercentThreshold > 0 {
		out.PercentThreshold = src.Discovery.PercentThreshold
	}
	if src.Discovery.StaleAfter > 0 {
		out.StaleAfter = src.Discovery.StaleAfter
	}
	if src.Discovery.HistorySize > 0 {
		out.HistorySize = src.Discovery.HistorySize
	}
	if out.StaleAfter == 0 {
		interval := src.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		out.StaleAfter = 2 * interval
	}
	return out
}

// ResolveDispatch returns the dispatch limits for a client.
func (c *Config) ResolveDispatch(cl ClientConfig) DispatchConfig {
	out := c.Dispatch
	if cl.MaxAttempts > 0 {
		out.MaxAttempts = cl.MaxAttempts
	}
	if cl.QueueSize > 0 {
		out.QueueSize = cl.QueueSize
	}
	if cl.HoldBufferSize > 0 {
		out.HoldBufferSize = cl.HoldBufferSize
	}
	return out
}
