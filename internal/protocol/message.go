package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the variants of the orchestrator wire protocol.
type Type string

const (
	TypeSystem        Type = "system"
	TypeMessage       Type = "message"
	TypeResult        Type = "result"
	TypeCompletion    Type = "completion"
	TypeInputRequest  Type = "input_request"
	TypeInputResponse Type = "input_response"
	TypeStart         Type = "start"
	TypeStop          Type = "stop"
	TypeError         Type = "error"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeRegisterTools Type = "register_tools"
	TypeTunnel        Type = "tunnel"
	// TypeRaw wraps frames that did not parse as JSON. They are archived,
	// never dropped.
	TypeRaw Type = "raw"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one protocol event on the wire. Payload shape depends on Type;
// Decode returns the typed variant. Content is the human-readable rendering
// derived at the translation boundary.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	Direction Direction       `json:"direction,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"data,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type SystemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type TextPayload struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

type ResultItem struct {
	Text string `json:"text"`
}

type ResultPayload struct {
	Status   string       `json:"status"`
	Messages []ResultItem `json:"messages,omitempty"`
}

type CompletionPayload struct {
	Status string `json:"status"`
}

type InputRequestPayload struct {
	Prompt string `json:"prompt"`
}

type InputResponsePayload struct {
	Response string `json:"response"`
}

type StartPayload struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
}

type StopPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RawPayload struct {
	Data string `json:"data"`
}

const (
	ResultStatusComplete = "complete"
	ResultStatusPartial  = "partial"

	CompletionStatusComplete  = "complete"
	CompletionStatusCancelled = "cancelled"

	SystemStatusConnected = "connected"
)

// Decode returns the typed payload for the message variant. The switch is
// exhaustive over the taxonomy; unknown types are an error so callers at the
// translation boundary cannot silently pass them through.
func (m Message) Decode() (any, error) {
	switch m.Type {
	case TypeSystem:
		return decodeAs[SystemPayload](m.Payload)
	case TypeMessage:
		return decodeAs[TextPayload](m.Payload)
	case TypeResult:
		return decodeAs[ResultPayload](m.Payload)
	case TypeCompletion:
		return decodeAs[CompletionPayload](m.Payload)
	case TypeInputRequest:
		if m.Prompt != "" {
			return InputRequestPayload{Prompt: m.Prompt}, nil
		}
		return decodeAs[InputRequestPayload](m.Payload)
	case TypeInputResponse:
		return decodeAs[InputResponsePayload](m.Payload)
	case TypeStart:
		return decodeAs[StartPayload](m.Payload)
	case TypeStop:
		return decodeAs[StopPayload](m.Payload)
	case TypeError:
		return decodeAs[ErrorPayload](m.Payload)
	case TypePing, TypePong:
		return nil, nil
	case TypeRegisterTools, TypeTunnel:
		return m.Payload, nil
	case TypeRaw:
		return decodeAs[RawPayload](m.Payload)
	default:
		return nil, fmt.Errorf("unknown message type: %s", m.Type)
	}
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Parse decodes a wire frame into a Message. Frames that are not valid JSON
// objects come back as a raw-type message carrying the original text.
func Parse(frame string, now time.Time) Message {
	var msg Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil || msg.Type == "" {
		return Message{
			Type:      TypeRaw,
			Direction: DirectionIncoming,
			Timestamp: now,
			Payload:   MustRaw(RawPayload{Data: frame}),
			Content:   frame,
		}
	}
	msg.Direction = DirectionIncoming
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
