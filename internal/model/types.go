package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is the type tag of an envelope and the key subscribers register
// handlers under.
type Topic string

// Reserved topics.
const (
	// TopicPing and TopicPong are liveness signals. They are answered by
	// the connection manager and never dispatched.
	TopicPing Topic = "ping"
	TopicPong Topic = "pong"

	// TopicAll receives every dispatched envelope after the handlers of
	// its own topic.
	TopicAll Topic = "all"

	// System notifications published by the connection manager.
	TopicConnected    Topic = "connected"
	TopicDisconnected Topic = "disconnected"
	TopicReconnecting Topic = "reconnecting"
)

// IsLiveness reports whether t is a heartbeat topic.
func (t Topic) IsLiveness() bool {
	return t == TopicPing || t == TopicPong
}

// IsSystem reports whether t is a notification produced locally by the
// connection manager.
func (t Topic) IsSystem() bool {
	switch t {
	case TopicConnected, TopicDisconnected, TopicReconnecting:
		return true
	}
	return false
}

// Envelope is the typed, timestamped unit exchanged over the socket.
type Envelope struct {
	Type    Topic           `json:"type" msgpack:"type" cbor:"type"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty" cbor:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt" msgpack:"sentAt" cbor:"sentAt"`
	Origin  string          `json:"origin,omitempty" msgpack:"origin,omitempty" cbor:"origin,omitempty"`
}

// NewEnvelope builds an envelope stamped with sentAt. payload is encoded
// as JSON; a nil payload leaves the field empty and a json.RawMessage or
// []byte payload is used as-is.
func NewEnvelope(topic Topic, payload any, sentAt time.Time) (Envelope, error) {
	if topic == "" {
		return Envelope{}, fmt.Errorf("envelope type is required")
	}

	env := Envelope{
		Type:   topic,
		SentAt: sentAt.UTC(),
	}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		env.Payload = append(json.RawMessage(nil), p...)
	case []byte:
		env.Payload = append(json.RawMessage(nil), p...)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", topic, err)
		}
		env.Payload = data
	}

	return env, nil
}

// WithOrigin returns a copy of e stamped with origin.
func (e Envelope) WithOrigin(origin string) Envelope {
	e.Origin = origin
	return e
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ConnectedNotice is the payload of a TopicConnected envelope.
type ConnectedNotice struct {
	URL       string    `json:"url"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
}

// ReconnectingNotice is the payload of a TopicReconnecting envelope.
type ReconnectingNotice struct {
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"maxAttempts"`
	Delay       time.Duration `json:"delay"`
	Reason      string        `json:"reason"`
}

// DisconnectedNotice is the payload of a TopicDisconnected envelope.
type DisconnectedNotice struct {
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`

	// Fatal is set once, when reconnect attempts are exhausted. Recovery
	// requires a caller-initiated connect.
	Fatal bool `json:"fatal"`

	// Initiated is set when the caller asked for the disconnect.
	Initiated bool `json:"initiated"`
}
