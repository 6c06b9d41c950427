// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package source defines the origin-side adapter contract and the
// concrete integrations (generic JSON endpoint, Last.fm, inbound
// webhooks). The core treats adapters as opaque beyond this contract;
// session handling and credential storage live inside each adapter.
package source

import (
	"context"
	"time"
)

// RawActivity is one playback observation as reported by an origin,
// before normalization. Newest-first ordering is the adapter's
// responsibility.
type RawActivity struct {
	Track   string
	Artists []string
	Album   string

	// DurationSeconds is the track length if the origin reports one,
	// 0 otherwise.
	DurationSeconds int

	// PlayedAt is the reported start of playback. Zero when the origin
	// only reports "currently playing"; the tracker infers a start.
	PlayedAt time.Time

	// NowPlaying marks an observation of in-progress playback rather
	// than a finished listen from history.
	NowPlaying bool

	// PlayID is the origin's opaque identity for this playback, when it
	// has one.
	PlayID string
}

// Adapter is the polling capability every source integration provides.
//
// FetchRecentActivity returns current and recent playback newest first.
// Failures must be classified through the fault package: transient
// failures leave tracker state untouched and are retried next poll,
// auth and config failures suspend the source.
type Adapter interface {
	// ID is the operator-assigned instance name, unique per config.
	ID() string

	// Type is the declared integration type ("lastfm", "json", ...).
	Type() string

	FetchRecentActivity(ctx context.Context) ([]RawActivity, error)
}

// PushAdapter is implemented by webhook-style sources that receive
// activity instead of polling for it. Pushed events are drained by the
// source's scheduler task alongside its regular snapshot handling.
type PushAdapter interface {
	Adapter

	// OnPushEvent hands an inbound event to the adapter. Must not
	// block; adapters buffer internally and drop oldest on overflow.
	OnPushEvent(activity RawActivity)
}
