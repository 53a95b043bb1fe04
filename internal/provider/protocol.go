// Package provider implements the websocket client for the remote sync
// provider. It reports connectivity and per-document sync completion, and
// carries CRDT updates in both directions.
package provider

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	// MessageHello announces the client after connecting.
	MessageHello MessageType = "hello"
	// MessageSync asks the provider to sync one document from a state
	// vector.
	MessageSync MessageType = "sync"
	// MessageSynced is the provider's signal that a document's backlog
	// has been delivered.
	MessageSynced MessageType = "synced"
	// MessageUpdate carries one CRDT update, either direction.
	MessageUpdate MessageType = "update"
)

// Message is the wire envelope. Byte fields travel base64-encoded.
type Message struct {
	Type        MessageType `json:"type"`
	Site        string      `json:"site,omitempty"`
	Doc         string      `json:"doc,omitempty"`
	StateVector []byte      `json:"state_vector,omitempty"`
	Update      []byte      `json:"update,omitempty"`
}

// messageSchema validates inbound envelopes before decoding. A provider
// speaking a different dialect gets its messages dropped, not applied.
const messageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["hello", "sync", "synced", "update"]},
    "site": {"type": "string"},
    "doc": {"type": "string", "format": "uuid"},
    "state_vector": {"type": "string"},
    "update": {"type": "string"}
  },
  "additionalProperties": false,
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "update"}}},
      "then": {"required": ["doc", "update"]}
    },
    {
      "if": {"properties": {"type": {"const": "synced"}}},
      "then": {"required": ["doc"]}
    }
  ]
}`

var compiledSchema = jsonschema.MustCompileString("provider/message.schema.json", messageSchema)

// decodeMessage validates and decodes one inbound envelope.
func decodeMessage(raw []byte) (Message, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return Message{}, fmt.Errorf("message failed schema validation: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
