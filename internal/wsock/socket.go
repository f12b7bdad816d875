package wsock

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

// Socket is the duplex text transport the connection client runs on.
// Close performs a normal-closure handshake.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

// Dialer opens a Socket against a ws:// or wss:// URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// CloseError carries a websocket close code through a read failure. The fake
// socket uses it to simulate abnormal closes; the real socket surfaces the
// peer's close frame via coder/websocket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "connection closed"
}

const (
	StatusNormalClosure   = int(websocket.StatusNormalClosure)
	StatusAbnormalClosure = int(websocket.StatusAbnormalClosure)
)

// CloseStatus extracts the websocket close code from a read error. Errors
// that carry no close frame (network resets, timeouts) return
// StatusAbnormalClosure so callers treat them as non-normal closes.
func CloseStatus(err error) int {
	if err == nil {
		return -1
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return int(code)
	}
	return StatusAbnormalClosure
}
