/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweeper

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event messages. Sinks and dashboards match on these strings.
const (
	MsgSweepStarted    = "catchup sweep running"
	MsgDeliveryAttempt = "trying to deliver item with missed schedule"
	MsgItemDelivered   = "item delivered"
	MsgItemFailed      = "item delivery failed"
	MsgItemSkipped     = "item skipped"
	MsgSweepCompleted  = "sweep completed"
	MsgSweepFailed     = "sweep failed"
	MsgSweepSkipped    = "sweep skipped: previous sweep still running"
)

// NopLogger discards every event.
type NopLogger struct{}

// Record does nothing.
func (NopLogger) Record(string, map[string]any) {}

// ZerologLogger writes events to a zerolog logger. Failures are logged at
// warn level, everything else at info.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger returns an EventLogger backed by logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger.With().Str("component", "sweep_events").Logger()}
}

// Record logs the event.
func (l *ZerologLogger) Record(message string, data map[string]any) {
	var ev *zerolog.Event
	switch message {
	case MsgSweepFailed:
		ev = l.logger.Error()
	case MsgItemFailed, MsgSweepSkipped:
		ev = l.logger.Warn()
	case MsgDeliveryAttempt:
		ev = l.logger.Debug()
	default:
		ev = l.logger.Info()
	}
	ev.Fields(data).Msg(message)
}

// MultiLogger fans an event out to several loggers.
type MultiLogger []EventLogger

// Record forwards the event to every non-nil logger. A sink that panics is
// logged and the remaining sinks still receive the event.
func (m MultiLogger) Record(message string, data map[string]any) {
	for _, l := range m {
		if l != nil {
			recordSafely(l, message, data)
		}
	}
}

func recordSafely(l EventLogger, message string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", message).Msgf("event sink %T panicked", l)
		}
	}()
	l.Record(message, data)
}

// Multi combines loggers, dropping nils. It returns NopLogger when none remain.
func Multi(loggers ...EventLogger) EventLogger {
	out := make(MultiLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NopLogger{}
	case 1:
		return out[0]
	}
	return out
}
