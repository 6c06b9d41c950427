// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package client

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
)

// BreakerAdapter wraps a client adapter with a circuit breaker so a
// destination that is hard down stops eating submit timeouts: the open
// circuit fails fast and the dispatch engine's backoff does the
// waiting.
//
// The breaker uses real time for its interval and timeout; unit tests
// exercise the wrapped adapter directly and leave breaker timing alone.
type BreakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker[any]
}

// WrapBreaker wraps an adapter. Opens after a 60% failure rate with at
// least 10 requests in a 1 minute window; retries half-open after 2
// minutes.
func WrapBreaker(inner Adapter) *BreakerAdapter {
	name := inner.ID()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("client", name).
				Str("from", breakerStateName(from)).
				Str("to", breakerStateName(to)).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name,
				breakerStateName(from), breakerStateName(to)).Inc()
		},
		IsSuccessful: func(err error) bool {
			// Rejections and auth failures are the destination talking,
			// not the destination being down; they must not trip the
			// breaker.
			if err == nil {
				return true
			}
			switch fault.KindOf(err) {
			case fault.KindRejected, fault.KindAuth, fault.KindConfig:
				return true
			default:
				return false
			}
		},
	})

	return &BreakerAdapter{inner: inner, cb: cb}
}

// ID implements Adapter.
func (b *BreakerAdapter) ID() string { return b.inner.ID() }

// Type implements Adapter.
func (b *BreakerAdapter) Type() string { return b.inner.Type() }

// Submit implements Adapter. An open circuit reports transient: the
// engine backs off and retries like any other temporary outage.
func (b *BreakerAdapter) Submit(ctx context.Context, rec *play.Record) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Submit(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fault.Transient(err)
	}
	return err
}

// UpdateNowPlaying implements NowPlayingUpdater when the wrapped
// adapter does; now-playing updates bypass the breaker since they are
// fire-and-forget.
func (b *BreakerAdapter) UpdateNowPlaying(ctx context.Context, rec *play.Record) error {
	if np, ok := b.inner.(NowPlayingUpdater); ok {
		return np.UpdateNowPlaying(ctx, rec)
	}
	return nil
}

// Unwrap exposes the inner adapter. Test hook.
func (b *BreakerAdapter) Unwrap() Adapter { return b.inner }

func breakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
