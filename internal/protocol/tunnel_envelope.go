package protocol

import (
	"encoding/json"
	"errors"
)

// TunnelEnvelope wraps a JSON-RPC 2.0 frame for transport inside the primary
// connection. Frames with type "tunnel" are routed to the tunnel responder
// instead of the state pipeline.
type TunnelEnvelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func WrapTunnel(rpc []byte) ([]byte, error) {
	if len(rpc) == 0 {
		return nil, errors.New("missing rpc payload")
	}
	env := TunnelEnvelope{
		Type:    TypeTunnel,
		Payload: rpc,
	}
	return json.Marshal(env)
}

// UnwrapTunnel returns the inner JSON-RPC frame and true when raw is a tunnel
// envelope. Any other frame returns ok=false and is handled by the ordinary
// message pipeline.
func UnwrapTunnel(raw []byte) (rpc []byte, ok bool) {
	var env TunnelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Type != TypeTunnel || len(env.Payload) == 0 {
		return nil, false
	}
	return env.Payload, true
}
