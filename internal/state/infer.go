package state

import (
	"errors"

	"relay/cli/internal/protocol"
)

// InferStateFromMessage derives zero, one, or two transitions from one
// inbound protocol message and applies them as a single batch, so observers
// see one notification per changed sub-state rather than one per message.
// The mapping is
// the message taxonomy; the switch is exhaustive so new variants cannot be
// added without deciding their state effect.
func (m *Manager) InferStateFromMessage(msg protocol.Message) {
	m.mu.Lock()
	snap := m.app
	stored := msg
	m.app.LastMessage = &stored
	m.mu.Unlock()

	var batch []update

	switch msg.Type {
	case protocol.TypeSystem:
		payload, err := msg.Decode()
		if err != nil {
			break
		}
		if sys, ok := payload.(protocol.SystemPayload); ok && sys.Status == protocol.SystemStatusConnected {
			batch = append(batch, update{kind: kindConnection, conn: ConnConnected})
		}
	case protocol.TypeMessage:
		if snap.Task == TaskIdle && snap.Connection == ConnConnected {
			batch = append(batch, update{kind: kindTask, task: TaskRunning})
		}
	case protocol.TypeResult:
		payload, err := msg.Decode()
		if err != nil {
			break
		}
		if result, ok := payload.(protocol.ResultPayload); ok && result.Status == protocol.ResultStatusComplete {
			batch = append(batch, update{kind: kindTask, task: TaskCompleted})
		}
	case protocol.TypeCompletion:
		payload, err := msg.Decode()
		if err != nil {
			break
		}
		if done, ok := payload.(protocol.CompletionPayload); ok {
			switch done.Status {
			case protocol.CompletionStatusCancelled:
				batch = append(batch, update{kind: kindTask, task: TaskIdle})
			case protocol.CompletionStatusComplete:
				batch = append(batch, update{kind: kindTask, task: TaskCompleted})
			}
		}
	case protocol.TypeInputRequest:
		batch = append(batch, update{kind: kindTask, task: TaskAwaitingInput})
	case protocol.TypeStop:
		switch snap.Task {
		case TaskStopping, TaskRunning, TaskStarting, TaskCompleted:
			batch = append(batch, update{kind: kindTask, task: TaskIdle})
		}
	case protocol.TypeError:
		payload, decodeErr := msg.Decode()
		text := "task error"
		if decodeErr == nil {
			if ep, ok := payload.(protocol.ErrorPayload); ok && ep.Message != "" {
				text = ep.Message
			}
		}
		batch = append(batch, update{kind: kindTask, task: TaskError, err: errors.New(text)})
	case protocol.TypePing, protocol.TypePong:
		// Liveness only.
	case protocol.TypeStart, protocol.TypeInputResponse, protocol.TypeRegisterTools, protocol.TypeTunnel, protocol.TypeRaw:
		// No state effect.
	}

	if len(batch) == 0 {
		return
	}
	m.applyBatch(batch)
}
