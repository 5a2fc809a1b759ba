// Package server defines the event names, payload shapes and frame codec
// shared by the client pumps, the gateway and the hub.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound events (client to server).
const (
	EventUserJoin       = "user:join"
	EventPrivateMessage = "message:private"
	EventRoomCreate     = "room:create"
	EventRoomJoin       = "room:join"
	EventRoomsList      = "rooms:list"
	EventRoomMessage    = "message:room"
)

// Outbound events (server to client).
const (
	EventUsersUpdate    = "users:update"
	EventRoomsUpdate    = "rooms:update"
	EventMessageReceive = "message:receive"
)

// ErrMalformedPayload is returned for frames that must be rejected before
// they reach presence, room or routing logic.
var ErrMalformedPayload = errors.New("malformed payload")

// Frame is the JSON envelope of every websocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PrivateMessage is the payload of message:private.
type PrivateMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
	From    string `json:"from"`
}

// RoomMessage is the payload of message:room.
type RoomMessage struct {
	Room    string `json:"room"`
	Content string `json:"content"`
	From    string `json:"from"`
}

// ReceivedMessage is the payload of message:receive. Exactly one of To and
// Room is set.
type ReceivedMessage struct {
	From    string `json:"from"`
	Content string `json:"content"`
	To      string `json:"to,omitempty"`
	Room    string `json:"room,omitempty"`
}

// RoomSummary is one element of rooms:update.
type RoomSummary struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
}

// decodeFrame parses a raw websocket message into a Frame.
func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformedPayload)
	}
	return frame, nil
}

// encodeFrame builds the wire form of an outbound event.
func encodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}

// decodeString reads a payload that must be a JSON string. An empty string is
// accepted; a missing payload or null is not.
func decodeString(event string, data json.RawMessage) (string, error) {
	if isMissing(data) {
		return "", fmt.Errorf("%w: %s requires a string payload", ErrMalformedPayload, event)
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
	}
	return value, nil
}

// decodePrivateMessage requires to, content and from to be present strings.
func decodePrivateMessage(data json.RawMessage) (PrivateMessage, error) {
	var raw struct {
		To      *string `json:"to"`
		Content *string `json:"content"`
		From    *string `json:"from"`
	}
	if err := decodeObject(EventPrivateMessage, data, &raw); err != nil {
		return PrivateMessage{}, err
	}
	if raw.To == nil || raw.Content == nil || raw.From == nil {
		return PrivateMessage{}, fmt.Errorf("%w: %s requires to, content and from", ErrMalformedPayload, EventPrivateMessage)
	}
	return PrivateMessage{To: *raw.To, Content: *raw.Content, From: *raw.From}, nil
}

// decodeRoomMessage requires room, content and from to be present strings.
func decodeRoomMessage(data json.RawMessage) (RoomMessage, error) {
	var raw struct {
		Room    *string `json:"room"`
		Content *string `json:"content"`
		From    *string `json:"from"`
	}
	if err := decodeObject(EventRoomMessage, data, &raw); err != nil {
		return RoomMessage{}, err
	}
	if raw.Room == nil || raw.Content == nil || raw.From == nil {
		return RoomMessage{}, fmt.Errorf("%w: %s requires room, content and from", ErrMalformedPayload, EventRoomMessage)
	}
	return RoomMessage{Room: *raw.Room, Content: *raw.Content, From: *raw.From}, nil
}

func decodeObject(event string, data json.RawMessage, dest any) error {
	if isMissing(data) {
		return fmt.Errorf("%w: %s requires an object payload", ErrMalformedPayload, event)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
	}
	return nil
}

func isMissing(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
