// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package fault defines the error taxonomy shared by source adapters,
// client adapters and the dispatch engine.
//
// Every error crossing an adapter boundary is classified into one of four
// kinds, which drive the retry and suspension policy:
//
//   - Transient: temporary condition (network, rate limit, 5xx). Retried.
//   - Auth: credential invalid or expired. The adapter is suspended until
//     its credential is refreshed externally.
//   - Config: the adapter is permanently misconfigured. Disabled, surfaced
//     once.
//   - Rejected: the destination refuses this specific content. Never
//     retried.
//
// Errors from one adapter never stop processing of others.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies an adapter error for retry and suspension decisions.
type Kind int

const (
	// KindUnknown is an unclassified error. Treated as transient so a
	// misbehaving adapter does not get permanently disabled by accident.
	KindUnknown Kind = iota

	// KindTransient is a temporary failure. Retried with backoff.
	KindTransient

	// KindAuth means the credential is invalid or expired.
	KindAuth

	// KindConfig means the adapter is permanently misconfigured.
	KindConfig

	// KindRejected means the destination refuses this specific content.
	KindRejected
)

// String returns the kind name used in logs and the status export.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindConfig:
		return "config"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error carries a classified adapter error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(err error) error { return New(KindTransient, err) }

// Auth wraps err as a credential failure.
func Auth(err error) error { return New(KindAuth, err) }

// Config wraps err as a permanent misconfiguration.
func Config(err error) error { return New(KindConfig, err) }

// Rejected wraps err as a content rejection.
func Rejected(err error) error { return New(KindRejected, err) }

// Transientf wraps a formatted message as a retryable failure.
func Transientf(format string, args ...any) error {
	return New(KindTransient, fmt.Errorf(format, args...))
}

// Rejectedf wraps a formatted message as a content rejection.
func Rejectedf(format string, args ...any) error {
	return New(KindRejected, fmt.Errorf(format, args...))
}

// KindOf extracts the classification from an error chain.
// Unclassified errors report KindUnknown; callers that need a retry
// decision should use IsRetryable instead, which treats unknown as
// transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the dispatch engine should retry after err.
// Unknown errors are retried; auth, config and rejection are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindConfig, KindRejected:
		return false
	default:
		return true
	}
}

// IsAuth reports whether err suspends the adapter until its credential
// is refreshed.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsConfig reports whether err permanently disables the adapter.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }

// FromHTTPStatus classifies an HTTP response status from an external
// service. Used by adapters that talk plain HTTP (ListenBrainz, generic
// JSON sources, MusicBrainz).
func FromHTTPStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth(err)
	case status == http.StatusTooManyRequests:
		return Transient(err)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return Rejected(err)
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return Config(err)
	case status >= 500:
		return Transient(err)
	default:
		return New(KindUnknown, err)
	}
}

// FromLastfmCode classifies a Last.fm API error code per the published
// error list: 4/9/14/17 are credential failures, 10/26 invalid or
// suspended API key, 6 invalid parameters, everything else (service
// offline, temporary error, rate limit) transient.
func FromLastfmCode(code int, err error) error {
	if err == nil {
		return nil
	}
	switch code {
	case 4, 9, 14, 17:
		return Auth(err)
	case 10, 26:
		return Config(err)
	case 6:
		return Rejected(err)
	default:
		return Transient(err)
	}
}

// FromNetwork classifies a transport-level error. Context cancellation is
// passed through untouched so shutdown is not misread as a source outage;
// everything else on the wire is transient.
func FromNetwork(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return Transient(err)
}
