/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries sweep events beyond the process log: onto the
// in-process bus, NATS subjects and Redis channels.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/sweeper"
)

var messageTypes = map[string]events.EventType{
	sweeper.MsgSweepStarted:    events.EventSweepStarted,
	sweeper.MsgSweepCompleted:  events.EventSweepCompleted,
	sweeper.MsgSweepFailed:     events.EventSweepFailed,
	sweeper.MsgSweepSkipped:    events.EventSweepSkipped,
	sweeper.MsgDeliveryAttempt: events.EventItemAttempt,
	sweeper.MsgItemDelivered:   events.EventItemDelivered,
	sweeper.MsgItemFailed:      events.EventItemFailed,
	sweeper.MsgItemSkipped:     events.EventItemSkipped,
}

// EventFor maps a sweep event message to its bus event type. Unknown
// messages map to themselves.
func EventFor(message string) events.EventType {
	if et, ok := messageTypes[message]; ok {
		return et
	}
	return events.EventType(message)
}

// payloadFor copies data so sinks never share the sweeper's map.
func payloadFor(message string, data map[string]any) events.Payload {
	p := make(events.Payload, len(data)+2)
	for k, v := range data {
		p[k] = v
	}
	p["message"] = message
	p["event"] = string(EventFor(message))
	return p
}

// Envelope is the wire format for remote sinks.
type Envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: now,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// DecodeEnvelope parses an event published by a remote sink.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &env, nil
}

// NodeID returns hostname-suffix, falling back to a bare uuid.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}
