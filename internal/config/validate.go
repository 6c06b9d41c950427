// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/playrelay/playrelay/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints (via validator tags) and the
// cross-field rules tags cannot express. It also applies in-place
// corrections that are warnings rather than errors: poll intervals below
// the enforced floor are raised.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seenSources := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if _, dup := seenSources[src.ID]; dup {
			return fmt.Errorf("config validation: duplicate source id %q", src.ID)
		}
		seenSources[src.ID] = struct{}{}

		if !src.Enabled {
			continue
		}
		if err := validateSourceCreds(src); err != nil {
			return err
		}
		if src.PollInterval == 0 {
			src.PollInterval = DefaultPollInterval
		}
		if src.Type != "webhook" && src.PollInterval < MinPollInterval {
			logging.Warn().
				Str("source", src.ID).
				Dur("configured", src.PollInterval).
				Dur("enforced", MinPollInterval).
				Msg("Poll interval below enforced minimum, raising")
			src.PollInterval = MinPollInterval
		}
	}

	seenClients := make(map[string]struct{}, len(c.Clients))
	for i := range c.Clients {
		cl := &c.Clients[i]
		if _, dup := seenClients[cl.ID]; dup {
			return fmt.Errorf("config validation: duplicate client id %q", cl.ID)
		}
		seenClients[cl.ID] = struct{}{}

		if !cl.Enabled {
			continue
		}
		if err := validateClientCreds(cl); err != nil {
			return err
		}
	}

	if c.Discovery.PercentThreshold > 0 && c.Discovery.DurationThreshold <= 0 {
		return fmt.Errorf("config validation: discovery.duration_threshold must be positive")
	}
	return nil
}

func validateSourceCreds(src *SourceConfig) error {
	switch src.Type {
	case "json":
		if src.URL == "" {
			return fmt.Errorf("config validation: source %q (json) requires url", src.ID)
		}
	case "lastfm":
		if src.APIKey == "" || src.Username == "" {
			return fmt.Errorf("config validation: source %q (lastfm) requires api_key and username", src.ID)
		}
	case "webhook":
		// Secret is optional; without one the endpoint accepts
		// unauthenticated pushes, which is fine on trusted networks.
	}
	return nil
}

func validateClientCreds(cl *ClientConfig) error {
	switch cl.Type {
	case "lastfm":
		if cl.APIKey == "" || cl.APISecret == "" || cl.SessionKey == "" {
			return fmt.Errorf("config validation: client %q (lastfm) requires api_key, api_secret and session_key", cl.ID)
		}
	case "listenbrainz":
		if cl.Token == "" {
			return fmt.Errorf("config validation: client %q (listenbrainz) requires token", cl.ID)
		}
	}
	return nil
}
