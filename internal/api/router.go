// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package api exposes the HTTP surface: health, the read-only status
// export, webhook ingestion for push sources and Prometheus metrics.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/metrics"
	"github.com/playrelay/playrelay/internal/source"
	"github.com/playrelay/playrelay/internal/status"
)

// Resumer lets the HTTP layer signal that a suspended client's
// credential has been refreshed. Satisfied by dispatch.Engine.
type Resumer interface {
	MarkHealthy(clientID string) bool
}

// Router builds the HTTP handler tree.
type Router struct {
	status   *status.Registry
	resumer  Resumer
	webhooks map[string]*source.WebhookSource
	cfg      config.ServerConfig
}

// NewRouter wires the handler dependencies. webhooks maps source id to
// its push adapter.
func NewRouter(cfg config.ServerConfig, st *status.Registry, resumer Resumer, webhooks map[string]*source.WebhookSource) *Router {
	return &Router{
		status:   st,
		resumer:  resumer,
		webhooks: webhooks,
		cfg:      cfg,
	}
}

// Handler assembles the chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if len(rt.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", rt.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(120, time.Minute)).
			Get("/status", rt.handleStatus)

		r.With(httprate.LimitByIP(600, time.Minute)).
			Post("/webhook/{source}", rt.handleWebhook)

		r.With(httprate.LimitByIP(30, time.Minute)).
			Post("/clients/{client}/resume", rt.handleClientResume)
	})
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !rt.status.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": rt.status.Sources(),
		"clients": rt.status.Clients(),
	})
}

// webhookPayload is the push ingestion wire format, one event per
// request.
type webhookPayload struct {
	Track           string   `json:"track"`
	Artist          string   `json:"artist,omitempty"`
	Artists         []string `json:"artists,omitempty"`
	Album           string   `json:"album,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	PlayedAt        int64    `json:"played_at,omitempty"` // unix seconds
	NowPlaying      bool     `json:"now_playing,omitempty"`
	PlayID          string   `json:"play_id,omitempty"`
}

func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")
	hook, ok := rt.webhooks[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
		return
	}
	if !hook.Authorize(bearerToken(r)) {
		metrics.PushEventsReceived.WithLabelValues(id, "rejected").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&payload); err != nil {
		metrics.PushEventsReceived.WithLabelValues(id, "rejected").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	activity, ok := payload.toActivity()
	if !ok {
		metrics.PushEventsReceived.WithLabelValues(id, "rejected").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "track and artist are required"})
		return
	}

	hook.OnPushEvent(activity)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (rt *Router) handleClientResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "client")
	if !rt.resumer.MarkHealthy(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown client"})
		return
	}
	logging.Info().Str("client", id).Msg("Client marked healthy via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (p webhookPayload) toActivity() (source.RawActivity, bool) {
	artists := p.Artists
	if len(artists) == 0 && p.Artist != "" {
		artists = []string{p.Artist}
	}
	if p.Track == "" || len(artists) == 0 {
		return source.RawActivity{}, false
	}
	activity := source.RawActivity{
		Track:           p.Track,
		Artists:         artists,
		Album:           p.Album,
		DurationSeconds: p.DurationSeconds,
		NowPlaying:      p.NowPlaying,
		PlayID:          p.PlayID,
	}
	if p.PlayedAt > 0 {
		activity.PlayedAt = time.Unix(p.PlayedAt, 0).UTC()
	}
	return activity, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return r.Header.Get("X-Webhook-Secret")
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Response encode failed")
	}
}
