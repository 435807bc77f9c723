/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// BusLogger publishes sweep events on an in-process bus.
type BusLogger struct {
	bus *events.Bus
}

// NewBusLogger creates a BusLogger.
func NewBusLogger(bus *events.Bus) *BusLogger {
	return &BusLogger{bus: bus}
}

// Record publishes the event. Slow subscribers lose the event.
func (l *BusLogger) Record(message string, data map[string]any) {
	if dropped := l.bus.Publish(EventFor(message), payloadFor(message, data)); dropped > 0 {
		telemetry.EventsDroppedTotal.WithLabelValues("bus").Add(float64(dropped))
	}
}
