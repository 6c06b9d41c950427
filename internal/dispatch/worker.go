// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/playrelay/playrelay/internal/client"
	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/fault"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/play"
	"github.com/playrelay/playrelay/internal/status"
)

// attempt tracks retry bookkeeping for one record on one client.
type attempt struct {
	rec         *play.Record
	count       int
	nextRetryAt time.Time
}

// worker owns one client's queue, retry state and suspension state.
// All mutable fields past the channels are touched only by run's
// goroutine.
type worker struct {
	adapter    client.Adapter
	cfg        config.DispatchConfig
	nowPlaying bool

	queue  chan *play.Record
	resume chan struct{}

	// suspended is written by run's goroutine and read by the
	// now-playing fast path on the caller's goroutine.
	suspended atomic.Bool

	// hold is touched only by run's goroutine.
	hold []*play.Record

	status *status.Registry
	log    zerolog.Logger
	now    func() time.Time
}

func newWorker(a client.Adapter, cfg config.DispatchConfig, nowPlaying bool, st *status.Registry, log zerolog.Logger) *worker {
	return &worker{
		adapter:    a,
		cfg:        cfg,
		nowPlaying: nowPlaying,
		queue:      make(chan *play.Record, cfg.QueueSize),
		resume:     make(chan struct{}, 1),
		status:     st,
		log:        log.With().Str("client", a.ID()).Logger(),
		now:        time.Now,
	}
}

// enqueue adds rec to the worker's queue without blocking. A full
// queue drops the record for this client.
func (w *worker) enqueue(rec *play.Record) {
	select {
	case w.queue <- rec:
		metrics.ClientQueueDepth.WithLabelValues(w.adapter.ID()).Set(float64(len(w.queue)))
	default:
		metrics.RecordsDropped.WithLabelValues(w.adapter.ID(), "queue_full").Inc()
		w.log.Warn().
			Str("track", rec.Track).
			Msg("Dispatch queue full, record dropped")
	}
}

func (w *worker) signalResume() {
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		if w.suspended.Load() {
			select {
			case <-ctx.Done():
				return
			case rec := <-w.queue:
				metrics.ClientQueueDepth.WithLabelValues(w.adapter.ID()).Set(float64(len(w.queue)))
				w.holdRecord(rec)
			case <-w.resume:
				w.resumeClient(ctx)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case rec := <-w.queue:
			metrics.ClientQueueDepth.WithLabelValues(w.adapter.ID()).Set(float64(len(w.queue)))
			w.process(ctx, rec)
		case <-w.resume:
			// Spurious resume while healthy; nothing to replay.
		}
	}
}

// process drives one record through the retry policy until a terminal
// outcome. Between attempts it waits on a timer, never a bare sleep, so
// shutdown stays prompt.
func (w *worker) process(ctx context.Context, rec *play.Record) {
	att := attempt{rec: rec}

	for {
		att.count++

		sctx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
		err := w.adapter.Submit(sctx, rec)
		cancel()

		if err == nil {
			metrics.DispatchAttempts.WithLabelValues(w.adapter.ID(), "ok").Inc()
			w.status.ClientDispatched(w.adapter.ID())
			w.log.Info().
				Str("track", rec.Track).
				Str("artist", rec.PrimaryArtist()).
				Int("attempts", att.count).
				Msg("Play dispatched")
			return
		}
		if ctx.Err() != nil {
			return
		}

		kind := fault.KindOf(err)
		metrics.DispatchAttempts.WithLabelValues(w.adapter.ID(), kind.String()).Inc()

		switch kind {
		case fault.KindRejected, fault.KindConfig:
			w.status.ClientFailed(w.adapter.ID(), err)
			w.log.Error().
				Err(err).
				Str("track", rec.Track).
				Int("attempts", att.count).
				Msg("Destination rejected record, not retrying")
			return

		case fault.KindAuth:
			w.suspend(rec, err)
			return

		default:
			if att.count >= w.cfg.MaxAttempts {
				metrics.DispatchRetryExhausted.WithLabelValues(w.adapter.ID()).Inc()
				w.status.ClientFailed(w.adapter.ID(), err)
				w.log.Error().
					Err(err).
					Str("track", rec.Track).
					Int("attempts", att.count).
					Msg("Retries exhausted, record permanently failed for this client")
				return
			}
			att.nextRetryAt = w.now().Add(w.backoff(att.count))
			if !w.waitUntil(ctx, att.nextRetryAt) {
				return
			}
		}
	}
}

// backoff returns the delay before the attempt after failedAttempts
// failures: base doubled per failure, capped.
func (w *worker) backoff(failedAttempts int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < failedAttempts; i++ {
		d *= 2
		if d >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if d > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return d
}

func (w *worker) waitUntil(ctx context.Context, when time.Time) bool {
	d := time.Until(when)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// suspend parks the client after an auth failure. The failing record
// leads the hold buffer so replay preserves discovery order.
func (w *worker) suspend(rec *play.Record, err error) {
	w.suspended.Store(true)
	metrics.ClientSuspended.WithLabelValues(w.adapter.ID()).Set(1)
	w.status.ClientSuspended(w.adapter.ID(), err)
	w.log.Warn().
		Err(err).
		Msg("Client suspended on auth failure, holding records until credential refresh")
	w.holdRecord(rec)
}

// holdRecord appends rec to the bounded hold buffer, dropping the
// oldest held record past capacity.
func (w *worker) holdRecord(rec *play.Record) {
	w.hold = append(w.hold, rec)
	if len(w.hold) > w.cfg.HoldBufferSize {
		dropped := w.hold[0]
		w.hold = append(w.hold[:0], w.hold[1:]...)
		metrics.RecordsDropped.WithLabelValues(w.adapter.ID(), "hold_overflow").Inc()
		w.log.Warn().
			Str("track", dropped.Track).
			Msg("Hold buffer full, oldest record dropped")
	}
}

// resumeClient replays held records in order. An auth failure during
// replay re-suspends with the unreplayed remainder still held.
func (w *worker) resumeClient(ctx context.Context) {
	w.suspended.Store(false)
	metrics.ClientSuspended.WithLabelValues(w.adapter.ID()).Set(0)
	w.status.ClientResumed(w.adapter.ID())
	w.log.Info().
		Int("held", len(w.hold)).
		Msg("Client resumed, replaying held records")

	pending := w.hold
	w.hold = nil
	for i, rec := range pending {
		if ctx.Err() != nil {
			w.hold = append(pending[i:], w.hold...)
			return
		}
		w.process(ctx, rec)
		if w.suspended.Load() {
			// process parked rec again; keep the rest behind it.
			w.hold = append(w.hold, pending[i+1:]...)
			return
		}
	}
}

// notifyNowPlaying forwards a currently-playing update when this client
// opted in and its adapter supports it. Suspended clients are skipped.
func (w *worker) notifyNowPlaying(ctx context.Context, rec *play.Record) {
	if !w.nowPlaying || w.suspended.Load() {
		return
	}
	np, ok := w.adapter.(client.NowPlayingUpdater)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	defer cancel()
	if err := np.UpdateNowPlaying(nctx, rec.Clone()); err != nil {
		w.log.Debug().
			Err(err).
			Str("track", rec.Track).
			Msg("Now-playing update failed")
	}
}
