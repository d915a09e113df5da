package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeStart      MessageType = "diff.sync.start"
	TypeStartOK    MessageType = "diff.sync.start.ok"
	TypeStartError MessageType = "diff.sync.start.error"
	TypePatch      MessageType = "diff.sync.patch"
	TypePatchOK    MessageType = "diff.sync.patch.ok"
	TypePatchError MessageType = "diff.sync.patch.error"
	TypeAck        MessageType = "diff.sync.ack"
	TypeAckOK      MessageType = "diff.sync.ack.ok"
	TypeAckError   MessageType = "diff.sync.ack.error"
	TypeEnd        MessageType = "diff.sync.end"
	TypeEndOK      MessageType = "diff.sync.end.ok"
	TypeEndError   MessageType = "diff.sync.end.error"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
)

// Message is the envelope exchanged over the channel and over the relay.
// Relay-borne messages carry Origin so receivers can drop self-echoes.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	EntityRef *EntityRef      `json:"entity_ref,omitempty"`
	Origin    *EndpointRef    `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

// NewBroadcastMessage builds a relay-bound envelope tagged with the
// entity it belongs to and the endpoint that authored it.
func NewBroadcastMessage(msgType MessageType, entity EntityRef, origin EndpointRef, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.EntityRef = &entity
	msg.Origin = &origin
	return msg, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Patch is one unit of change computed by the sender against the version
// pair it advertises. Edits is opaque to the engine.
type Patch struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	N        uint64 `json:"n"`
	M        uint64 `json:"m"`
	Edits    string `json:"edits"`
}

// Ack confirms application of edits up to the stated version pair.
type Ack struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	N        uint64 `json:"n"`
	M        uint64 `json:"m"`
}

type StartPayload struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

type PatchPayload struct {
	EntityType string  `json:"entity_type" validate:"required"`
	EntityID   string  `json:"entity_id" validate:"required"`
	Patches    []Patch `json:"patches" validate:"required,min=1,dive"`
}

type AckPayload struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	N          uint64 `json:"n"`
	M          uint64 `json:"m"`
}

type EndPayload struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

// PatchBroadcast is carried by relay-borne TypePatch messages: the accepted
// patches plus the version the originating shadow advanced to.
type PatchBroadcast struct {
	Patches []Patch     `json:"patches"`
	Version VersionPair `json:"version"`
	Content string      `json:"content,omitempty"`
}

type AckBroadcast struct {
	Version VersionPair `json:"version"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
