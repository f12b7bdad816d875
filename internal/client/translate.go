package client

import (
	"strings"

	"relay/cli/internal/protocol"
)

// translate renders a message's human-readable content per the protocol
// taxonomy. The switch is exhaustive; unknown payloads fall back to the
// message content or empty.
func translate(msg protocol.Message) string {
	payload, err := msg.Decode()
	if err != nil {
		return msg.Content
	}
	switch p := payload.(type) {
	case protocol.SystemPayload:
		out := "system status: " + p.Status
		if p.Message != "" {
			out += " (" + p.Message + ")"
		}
		return out
	case protocol.TextPayload:
		if p.Source != "" {
			return p.Source + ": " + p.Text
		}
		return p.Text
	case protocol.ResultPayload:
		parts := make([]string, 0, len(p.Messages))
		for _, item := range p.Messages {
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		text := strings.Join(parts, "\n")
		if p.Status == protocol.ResultStatusPartial {
			return "(partial) " + text
		}
		return text
	case protocol.CompletionPayload:
		if p.Status == protocol.CompletionStatusCancelled {
			return "task cancelled"
		}
		return "task completed"
	case protocol.InputRequestPayload:
		return p.Prompt
	case protocol.InputResponsePayload:
		return p.Response
	case protocol.StartPayload:
		return "start task: " + p.Task
	case protocol.StopPayload:
		if p.Reason != "" {
			return "stop requested: " + p.Reason
		}
		return "stop requested"
	case protocol.ErrorPayload:
		return p.Message
	case protocol.RawPayload:
		return p.Data
	default:
		return msg.Content
	}
}
