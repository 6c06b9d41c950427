// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package source

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/metrics"
)

// webhookBufferSize bounds events held between scheduler drains.
// Oldest dropped on overflow; a push source that outruns its drain
// cadence is misconfigured, not a reason to grow without bound.
const webhookBufferSize = 256

// WebhookSource is the push-path adapter: the HTTP layer hands it
// inbound events via OnPushEvent and the source's scheduler task drains
// them on its regular cadence, so tracker state stays owned by one
// goroutine.
type WebhookSource struct {
	id     string
	secret string

	mu     sync.Mutex
	buffer []RawActivity
}

// NewWebhookSource builds the adapter from its config section.
func NewWebhookSource(cfg config.SourceConfig) *WebhookSource {
	return &WebhookSource{
		id:     cfg.ID,
		secret: cfg.WebhookSecret,
	}
}

// ID implements Adapter.
func (s *WebhookSource) ID() string { return s.id }

// Type implements Adapter.
func (s *WebhookSource) Type() string { return "webhook" }

// Authorize checks a presented shared secret in constant time. A source
// configured without a secret accepts every push.
func (s *WebhookSource) Authorize(presented string) bool {
	if s.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(s.secret), []byte(presented)) == 1
}

// OnPushEvent implements PushAdapter. Never blocks; oldest events are
// dropped beyond the buffer bound.
func (s *WebhookSource) OnPushEvent(activity RawActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= webhookBufferSize {
		s.buffer = s.buffer[1:]
		metrics.PushEventsReceived.WithLabelValues(s.id, "dropped").Inc()
	}
	s.buffer = append(s.buffer, activity)
	metrics.PushEventsReceived.WithLabelValues(s.id, "accepted").Inc()
}

// FetchRecentActivity implements Adapter by draining buffered pushes,
// newest first. It never fails: a webhook source with nothing pushed is
// simply idle.
func (s *WebhookSource) FetchRecentActivity(_ context.Context) ([]RawActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil, nil
	}
	drained := s.buffer
	s.buffer = nil

	// Buffered oldest-first; the snapshot contract is newest first.
	out := make([]RawActivity, 0, len(drained))
	for i := len(drained) - 1; i >= 0; i-- {
		out = append(out, drained[i])
	}
	return out, nil
}
