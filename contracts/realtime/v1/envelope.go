// Package v1 is the wire contract of the realtime messaging channel. It is
// shared by the client runtime and the development backend.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated on the websocket handshake.
const Subprotocol = "wayfarer.realtime.v1"

const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeConversationJoin subscribes to a conversation (client -> server).
	TypeConversationJoin = "conversation.join"

	// TypeMessageSend posts a message (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageAck confirms a send with server ids (server -> client).
	TypeMessageAck = "message.ack"
	// TypeMessageNew fans out an accepted message (server -> members).
	TypeMessageNew = "message.new"

	// TypeNotificationNew pushes a notification (server -> client).
	TypeNotificationNew = "notification.new"

	// TypeError reports a rejected envelope (server -> client).
	TypeError = "error"
)

var knownTypes = map[string]struct{}{
	TypeHello:            {},
	TypeHelloAck:         {},
	TypeConversationJoin: {},
	TypeMessageSend:      {},
	TypeMessageAck:       {},
	TypeMessageNew:       {},
	TypeNotificationNew:  {},
	TypeError:            {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with payload marshalled to JSON.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, env.Validate()
}

// Validate performs structural validation.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, dst)
}
