package state

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(Options{})
}

type notifyCounter struct {
	mu    sync.Mutex
	conns []ConnectionState
	tasks []TaskState
	apps  []AppState
}

func (c *notifyCounter) attach(m *Manager) {
	m.OnConnectionState(func(s ConnectionState, _ string) {
		c.mu.Lock()
		c.conns = append(c.conns, s)
		c.mu.Unlock()
	})
	m.OnTaskState(func(s TaskState, _ string) {
		c.mu.Lock()
		c.tasks = append(c.tasks, s)
		c.mu.Unlock()
	})
	m.OnAppState(func(app AppState) {
		c.mu.Lock()
		c.apps = append(c.apps, app)
		c.mu.Unlock()
	})
}

func (c *notifyCounter) connCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *notifyCounter) taskCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func TestUpdateConnectionState_IdempotentAndOrdered(t *testing.T) {
	m := newTestManager()
	counter := &notifyCounter{}
	counter.attach(m)

	m.UpdateConnectionState(ConnConnecting, nil)
	m.UpdateConnectionState(ConnConnecting, nil) // suppressed
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateConnectionState(ConnConnected, nil) // suppressed

	if got := m.Snapshot().Connection; got != ConnConnected {
		t.Fatalf("unexpected connection state: %s", got)
	}
	if counter.connCount() != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", counter.connCount(), counter.conns)
	}
}

func TestUpdateConnectionState_SameStateWithErrorStillFires(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)

	counter := &notifyCounter{}
	counter.attach(m)
	m.UpdateConnectionState(ConnConnected, errors.New("degraded"))

	if counter.connCount() != 1 {
		t.Fatalf("expected error-attached update to fire, got %d", counter.connCount())
	}
	if got := m.Snapshot().LastError; got != "degraded" {
		t.Fatalf("unexpected last error: %q", got)
	}
}

func TestConnectionClosed_ForcesTaskIdleInSameBatch(t *testing.T) {
	for _, terminal := range []ConnectionState{ConnClosed, ConnError} {
		m := newTestManager()
		m.UpdateConnectionState(ConnConnected, nil)
		m.UpdateTaskState(TaskRunning, nil)

		counter := &notifyCounter{}
		counter.attach(m)
		m.UpdateConnectionState(terminal, nil)

		app := m.Snapshot()
		if app.Connection != terminal {
			t.Fatalf("unexpected connection state: %s", app.Connection)
		}
		if app.Task != TaskIdle {
			t.Fatalf("task should be forced idle when connection is %s, got %s", terminal, app.Task)
		}
		if counter.taskCount() != 1 || counter.tasks[0] != TaskIdle {
			t.Fatalf("expected one forced task notification, got %v", counter.tasks)
		}
	}
}

func TestTaskTransitions_NeverAlterConnection(t *testing.T) {
	m := newTestManager()
	m.UpdateConnectionState(ConnConnected, nil)
	m.UpdateTaskState(TaskError, errors.New("boom"))

	if got := m.Snapshot().Connection; got != ConnConnected {
		t.Fatalf("task transition altered connection state: %s", got)
	}
}

func TestReentrantUpdate_QueuedNotNested(t *testing.T) {
	m := newTestManager()
	var order []TaskState
	m.OnTaskState(func(s TaskState, _ string) {
		order = append(order, s)
		if s == TaskStarting {
			// Re-entrant mutation from inside a listener must be queued
			// and replayed, not applied synchronously.
			m.UpdateTaskState(TaskRunning, nil)
		}
	})

	m.UpdateTaskState(TaskStarting, nil)

	if len(order) != 2 || order[0] != TaskStarting || order[1] != TaskRunning {
		t.Fatalf("unexpected notification order: %v", order)
	}
	if got := m.Snapshot().Task; got != TaskRunning {
		t.Fatalf("unexpected final task state: %s", got)
	}
}

func TestStopWatchdog_ForcesIdleWithError(t *testing.T) {
	m := NewManager(Options{StopTimeout: 30 * time.Millisecond})
	m.UpdateTaskState(TaskRunning, nil)
	m.UpdateTaskState(TaskStopping, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		app := m.Snapshot()
		if app.Task == TaskIdle {
			if app.LastError == "" {
				t.Fatal("watchdog must attach a non-empty error")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watchdog never fired, task still %s", m.Snapshot().Task)
}

func TestStopWatchdog_CancelledWhenStoppingExits(t *testing.T) {
	m := NewManager(Options{StopTimeout: 30 * time.Millisecond})
	m.UpdateTaskState(TaskRunning, nil)
	m.UpdateTaskState(TaskStopping, nil)
	m.UpdateTaskState(TaskCompleted, nil)

	time.Sleep(80 * time.Millisecond)
	app := m.Snapshot()
	if app.Task != TaskCompleted {
		t.Fatalf("cancelled watchdog still fired, task %s", app.Task)
	}
	if app.LastError != "" {
		t.Fatalf("unexpected error after cancelled watchdog: %q", app.LastError)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := newTestManager()
	fired := 0
	unsub := m.OnConnectionState(func(ConnectionState, string) { fired++ })

	m.UpdateConnectionState(ConnConnecting, nil)
	unsub()
	m.UpdateConnectionState(ConnConnected, nil)

	if fired != 1 {
		t.Fatalf("expected 1 notification after unsubscribe, got %d", fired)
	}
}

func TestPredicates(t *testing.T) {
	m := newTestManager()
	if m.CanStartTask() {
		t.Fatal("cannot start while disconnected")
	}

	m.UpdateConnectionState(ConnConnected, nil)
	if !m.CanStartTask() {
		t.Fatal("should be able to start when connected and idle")
	}
	if m.CanStopTask() {
		t.Fatal("nothing to stop yet")
	}

	m.UpdateTaskState(TaskRunning, nil)
	if m.CanStartTask() {
		t.Fatal("cannot start while running")
	}
	if !m.CanStopTask() {
		t.Fatal("running task should be stoppable")
	}

	m.UpdateTaskState(TaskAwaitingInput, nil)
	if !m.IsTaskRunning() {
		t.Fatal("awaiting_input counts as running")
	}
}
