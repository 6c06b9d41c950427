// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"transient", Transient(errors.New("timeout")), KindTransient},
		{"auth", Auth(errors.New("expired token")), KindAuth},
		{"config", Config(errors.New("bad url")), KindConfig},
		{"rejected", Rejected(errors.New("malformed track")), KindRejected},
		{"plain error", errors.New("whatever"), KindUnknown},
		{"nil stays nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	// Classification must survive fmt.Errorf wrapping.
	inner := Auth(errors.New("session invalid"))
	outer := fmt.Errorf("submit listen: %w", inner)

	assert.Equal(t, KindAuth, KindOf(outer))
	assert.False(t, IsRetryable(outer))
	assert.True(t, IsAuth(outer))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient(errors.New("503"))))
	assert.True(t, IsRetryable(errors.New("unclassified")))
	assert.False(t, IsRetryable(Rejected(errors.New("bad content"))))
	assert.False(t, IsRetryable(Auth(errors.New("401"))))
	assert.False(t, IsRetryable(Config(errors.New("no such endpoint"))))
}

func TestFromHTTPStatus(t *testing.T) {
	base := errors.New("request failed")

	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusBadRequest, KindRejected},
		{http.StatusUnprocessableEntity, KindRejected},
		{http.StatusNotFound, KindConfig},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusTeapot, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(FromHTTPStatus(tt.status, base)))
		})
	}

	assert.NoError(t, FromHTTPStatus(http.StatusOK, nil))
}

func TestFromNetwork(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(FromNetwork(errors.New("connection refused"))))
	assert.Equal(t, KindTransient, KindOf(FromNetwork(context.DeadlineExceeded)))

	// Cancellation passes through so shutdown is not counted as an outage.
	err := FromNetwork(context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(err))
}

func TestErrorString(t *testing.T) {
	err := Transient(errors.New("dial tcp: timeout"))
	assert.Equal(t, "transient: dial tcp: timeout", err.Error())
}
