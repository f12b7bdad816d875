package state

import (
	"testing"
	"time"

	"relay/cli/internal/protocol"
)

func inbound(frame string) protocol.Message {
	return protocol.Parse(frame, time.Now())
}

func TestInfer_ResultCompleteFinishesTask(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskRunning, nil)

	m.InferStateFromMessage(inbound(`{"type":"result","data":{"status":"complete"}}`))

	if got := m.Snapshot().Task; got != TaskCompleted {
		t.Fatalf("unexpected task state: %s", got)
	}
	if m.CanStopTask() {
		t.Fatal("completed task must not be stoppable")
	}
}

func TestInfer_ResultPartialHasNoEffect(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskRunning, nil)

	m.InferStateFromMessage(inbound(`{"type":"result","data":{"status":"partial"}}`))

	if got := m.Snapshot().Task; got != TaskRunning {
		t.Fatalf("partial result changed task state: %s", got)
	}
}

func TestInfer_InputRequestAwaitsInput(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskRunning, nil)

	m.InferStateFromMessage(inbound(`{"type":"input_request","prompt":"continue?"}`))

	if got := m.Snapshot().Task; got != TaskAwaitingInput {
		t.Fatalf("unexpected task state: %s", got)
	}
	if m.CanStartTask() {
		t.Fatal("cannot start a new task while awaiting input")
	}
}

func TestInfer_MessagePromotesIdleToRunning(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)

	m.InferStateFromMessage(inbound(`{"type":"message","data":{"source":"agent","text":"working"}}`))

	if got := m.Snapshot().Task; got != TaskRunning {
		t.Fatalf("unexpected task state: %s", got)
	}
}

func TestInfer_MessageIgnoredWhileDisconnected(t *testing.T) {
	m := newTestManager()
	m.InferStateFromMessage(inbound(`{"type":"message","data":{"text":"working"}}`))
	if got := m.Snapshot().Task; got != TaskIdle {
		t.Fatalf("unexpected task state: %s", got)
	}
}

func TestInfer_CompletionStatuses(t *testing.T) {
	cases := []struct {
		frame string
		want  TaskState
	}{
		{`{"type":"completion","data":{"status":"cancelled"}}`, TaskIdle},
		{`{"type":"completion","data":{"status":"complete"}}`, TaskCompleted},
	}
	for _, tc := range cases {
		m := newTestManager()
		m.UpdateConnectionState(ConnConnected, nil)
		m.UpdateTaskState(TaskRunning, nil)
		m.InferStateFromMessage(inbound(tc.frame))
		if got := m.Snapshot().Task; got != tc.want {
			t.Fatalf("frame %s: got %s, want %s", tc.frame, got, tc.want)
		}
	}
}

func TestInfer_StopResetsEligibleStates(t *testing.T) {
	for _, from := range []TaskState{TaskStopping, TaskRunning, TaskStarting, TaskCompleted} {
		m := newTestManager()
		m.UpdateConnectionState(ConnConnected, nil)
		m.UpdateTaskState(from, nil)
		m.InferStateFromMessage(inbound(`{"type":"stop","data":{"reason":"user"}}`))
		if got := m.Snapshot().Task; got != TaskIdle {
			t.Fatalf("stop from %s: got %s", from, got)
		}
	}

	// awaiting_input is not in the stop reset set.
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskAwaitingInput, nil)
	m.InferStateFromMessage(inbound(`{"type":"stop","data":{}}`))
	if got := m.Snapshot().Task; got != TaskAwaitingInput {
		t.Fatalf("stop from awaiting_input: got %s", got)
	}
}

func TestInfer_ErrorSetsTaskErrorWithMessage(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskRunning, nil)

	m.InferStateFromMessage(inbound(`{"type":"error","data":{"message":"agent crashed"}}`))

	app := m.Snapshot()
	if app.Task != TaskError {
		t.Fatalf("unexpected task state: %s", app.Task)
	}
	if app.LastError != "agent crashed" {
		t.Fatalf("unexpected error: %q", app.LastError)
	}
}

func TestInfer_SystemConnected(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnecting, nil)
	m.InferStateFromMessage(inbound(`{"type":"system","data":{"status":"connected"}}`))
	if got := m.Snapshot().Connection; got != ConnConnected {
		t.Fatalf("unexpected connection state: %s", got)
	}
}

func TestInfer_PongAndRawLeaveStateAlone(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskRunning, nil)

	m.InferStateFromMessage(inbound(`{"type":"pong"}`))
	m.InferStateFromMessage(inbound(`plain text`))

	app := m.Snapshot()
	if app.Connection != ConnConnected || app.Task != TaskRunning {
		t.Fatalf("liveness/raw messages changed state: %+v", app)
	}
	if app.LastMessage == nil || app.LastMessage.Type != protocol.TypeRaw {
		t.Fatal("last message should track every inbound message")
	}
}
