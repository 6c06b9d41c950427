// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package pipeline

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/playrelay/playrelay/internal/logging"
)

// busLogger adapts the global zerolog logger to watermill's
// LoggerAdapter so bus internals log through the same sink as the rest
// of the process.
type busLogger struct {
	log zerolog.Logger
}

func newBusLogger() watermill.LoggerAdapter {
	return &busLogger{
		log: logging.Logger().With().Str("component", "bus").Logger(),
	}
}

func (l *busLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.log.Error().Err(err), fields).Msg(msg)
}

func (l *busLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), fields).Msg(msg)
}

func (l *busLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), fields).Msg(msg)
}

func (l *busLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.log.Trace(), fields).Msg(msg)
}

func (l *busLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	log := l.log
	for k, v := range fields {
		log = log.With().Interface(k, v).Logger()
	}
	return &busLogger{log: log}
}

func (l *busLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
