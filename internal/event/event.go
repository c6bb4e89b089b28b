// Package event defines the broadcast event envelope exchanged between
// services and clients over the relay. All events are serialized as JSON
// with a "type" discriminator and a millisecond Unix timestamp. The wire
// shape is part of the public contract and must not change:
//
//	{type, sessionId?, userId?, senderId?, partnerId?, content?, timestamp}
//
// Each event type carries only the fields relevant to it; envelopes with an
// unrecognized type are rejected at parse time.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type discriminators.
const (
	TypeWelcome      = "welcome"
	TypeMatchFound   = "match_found"
	TypeChatMessage  = "chat_message"
	TypeSessionEnded = "session_ended"
)

// Welcome is sent by a relay node to a client immediately after the
// connection opens. The timestamp doubles as a liveness signal.
type Welcome struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// MatchFound notifies the waiting side of a new match. UserID is the
// recipient: clients discard match_found events addressed to someone else.
type MatchFound struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	PartnerID string `json:"partnerId"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessage is a text message relayed between the two parties of a
// session. The relay never stores the content; persistence is the message
// store's job.
type ChatMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SessionEnded announces that a session transitioned to ended. EndedBy is
// the user who triggered the transition; the partner uses it to distinguish
// their own end action from the stranger leaving.
type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	EndedBy   string `json:"endedBy"`
	Timestamp int64  `json:"timestamp"`
}

// NewWelcome builds a welcome event stamped with the current server time.
func NewWelcome() Welcome {
	return Welcome{Type: TypeWelcome, Timestamp: Now()}
}

// NewMatchFound builds a match_found event addressed to userID.
func NewMatchFound(userID, sessionID, partnerID string) MatchFound {
	return MatchFound{
		Type:      TypeMatchFound,
		UserID:    userID,
		SessionID: sessionID,
		PartnerID: partnerID,
		Timestamp: Now(),
	}
}

// NewSessionEnded builds a session_ended event for the given session.
func NewSessionEnded(sessionID, endedBy string) SessionEnded {
	return SessionEnded{
		Type:      TypeSessionEnded,
		SessionID: sessionID,
		EndedBy:   endedBy,
		Timestamp: Now(),
	}
}

// Now returns the current time in Unix milliseconds, the timestamp unit
// used throughout the broadcast protocol.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Envelope captures the type discriminator and the raw JSON bytes of an
// incoming event so the payload can be decoded into its concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full raw message around and extracts only the
// "type" field for routing.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("event: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("event: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// Parse decodes raw bytes into a typed event. It returns the type string,
// the concrete struct (Welcome, MatchFound, ChatMessage, or SessionEnded),
// and an error for malformed JSON or unrecognized types.
func Parse(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("event: parse: %w", err)
	}

	var (
		ev  interface{}
		err error
	)

	switch env.Type {
	case TypeWelcome:
		var e Welcome
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypeMatchFound:
		var e MatchFound
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypeChatMessage:
		var e ChatMessage
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypeSessionEnded:
		var e SessionEnded
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	default:
		return env.Type, nil, fmt.Errorf("event: unknown event type %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("event: decode %q payload: %w", env.Type, err)
	}
	return env.Type, ev, nil
}
