package state

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"relay/cli/internal/protocol"
)

// ConnectionState reflects transport health only.
type ConnectionState string

const (
	ConnConnecting ConnectionState = "connecting"
	ConnConnected  ConnectionState = "connected"
	ConnError      ConnectionState = "error"
	ConnClosed     ConnectionState = "closed"
)

// TaskState reflects the lifecycle of one remotely-executed task.
type TaskState string

const (
	TaskIdle          TaskState = "idle"
	TaskStarting      TaskState = "starting"
	TaskRunning       TaskState = "running"
	TaskAwaitingInput TaskState = "awaiting_input"
	TaskStopping      TaskState = "stopping"
	TaskCompleted     TaskState = "completed"
	TaskError         TaskState = "error"
)

// AppState is the single source of truth for one client instance. Observers
// receive read-only snapshots; all mutation goes through the Manager.
type AppState struct {
	Connection  ConnectionState
	Task        TaskState
	RunID       string
	LastError   string
	LastMessage *protocol.Message
}

const defaultStopTimeout = 5 * time.Second

type Options struct {
	Logger      *slog.Logger
	StopTimeout time.Duration
}

type updateKind int

const (
	kindConnection updateKind = iota
	kindTask
)

type update struct {
	kind updateKind
	conn ConnectionState
	task TaskState
	err  error
}

type notification struct {
	kind    updateKind
	conn    ConnectionState
	task    TaskState
	errText string
	app     AppState
}

// Manager owns the two coupled state machines. Concurrent and re-entrant
// update requests are serialized: an update arriving while another is being
// dispatched is queued and replayed after the current dispatch completes, so
// observer side effects can never corrupt state or double-fire events.
type Manager struct {
	mu          sync.Mutex
	app         AppState
	dispatching bool
	pending     []update

	nextObserverID int
	appObservers   map[int]func(AppState)
	connObservers  map[int]func(ConnectionState, string)
	taskObservers  map[int]func(TaskState, string)

	stopTimer   *time.Timer
	stopTimeout time.Duration

	logger *slog.Logger
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	return &Manager{
		app:           AppState{Connection: ConnClosed, Task: TaskIdle},
		appObservers:  map[int]func(AppState){},
		connObservers: map[int]func(ConnectionState, string){},
		taskObservers: map[int]func(TaskState, string){},
		stopTimeout:   timeout,
		logger:        logger,
	}
}

// OnAppState registers a generic observer. The returned func unsubscribes.
func (m *Manager) OnAppState(fn func(AppState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObserverID
	m.nextObserverID++
	m.appObservers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.appObservers, id)
	}
}

func (m *Manager) OnConnectionState(fn func(ConnectionState, string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObserverID
	m.nextObserverID++
	m.connObservers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.connObservers, id)
	}
}

func (m *Manager) OnTaskState(fn func(TaskState, string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObserverID
	m.nextObserverID++
	m.taskObservers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.taskObservers, id)
	}
}

// UpdateConnectionState applies a connection transition. It is idempotent:
// an unchanged state with no error attached is a no-op and fires nothing.
func (m *Manager) UpdateConnectionState(s ConnectionState, err error) {
	m.applyBatch([]update{{kind: kindConnection, conn: s, err: err}})
}

// UpdateTaskState applies a task transition with the same idempotence rule.
func (m *Manager) UpdateTaskState(s TaskState, err error) {
	m.applyBatch([]update{{kind: kindTask, task: s, err: err}})
}

// SetRunID records the run id for the upcoming connection attempt.
func (m *Manager) SetRunID(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.app.RunID = runID
}

// Reset restores the non-machine fields to their initial values. Used on
// explicit disconnect after the closing transitions have fired.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.app.RunID = ""
	m.app.LastError = ""
	m.app.LastMessage = nil
}

func (m *Manager) Snapshot() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.app
}

func (m *Manager) IsConnected() bool {
	return m.Snapshot().Connection == ConnConnected
}

func (m *Manager) IsTaskRunning() bool {
	switch m.Snapshot().Task {
	case TaskStarting, TaskRunning, TaskAwaitingInput:
		return true
	}
	return false
}

func (m *Manager) CanStartTask() bool {
	app := m.Snapshot()
	if app.Connection != ConnConnected {
		return false
	}
	switch app.Task {
	case TaskIdle, TaskCompleted, TaskError:
		return true
	}
	return false
}

func (m *Manager) CanStopTask() bool {
	return m.IsTaskRunning()
}

// applyBatch is the single mutation path. A batch arriving while another is
// being dispatched is parked on the pending queue and replayed once the
// current dispatch (including its observer callbacks) has finished.
func (m *Manager) applyBatch(batch []update) {
	m.mu.Lock()
	if m.dispatching {
		m.pending = append(m.pending, batch...)
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for {
		notifs, observers := m.applyLocked(batch)
		m.mu.Unlock()

		for _, n := range notifs {
			observers.fire(n)
		}

		m.mu.Lock()
		if len(m.pending) == 0 {
			break
		}
		batch = m.pending
		m.pending = nil
	}
	m.dispatching = false
	m.mu.Unlock()
}

type observerSet struct {
	app  []func(AppState)
	conn []func(ConnectionState, string)
	task []func(TaskState, string)
}

func (o observerSet) fire(n notification) {
	switch n.kind {
	case kindConnection:
		for _, fn := range o.conn {
			fn(n.conn, n.errText)
		}
	case kindTask:
		for _, fn := range o.task {
			fn(n.task, n.errText)
		}
	}
	for _, fn := range o.app {
		fn(n.app)
	}
}

// applyLocked mutates state under the lock and returns the notifications for
// every effective change, plus a snapshot of the observers to invoke. The
// cross-coupling rule runs here: a connection transition into error or closed
// force-resets a non-idle task within the same batch.
func (m *Manager) applyLocked(batch []update) ([]notification, observerSet) {
	var notifs []notification

	record := func(u update) {
		errText := ""
		if u.err != nil {
			errText = u.err.Error()
			m.app.LastError = errText
		}
		notifs = append(notifs, notification{
			kind:    u.kind,
			conn:    m.app.Connection,
			task:    m.app.Task,
			errText: errText,
			app:     m.app,
		})
	}

	for _, u := range batch {
		switch u.kind {
		case kindConnection:
			if m.app.Connection == u.conn && u.err == nil {
				continue
			}
			m.app.Connection = u.conn
			record(u)
			if u.conn == ConnError || u.conn == ConnClosed {
				if m.app.Task != TaskIdle {
					m.transitionTaskLocked(TaskIdle)
					record(update{kind: kindTask, task: TaskIdle})
				}
			}
		case kindTask:
			if m.app.Task == u.task && u.err == nil {
				continue
			}
			m.transitionTaskLocked(u.task)
			record(u)
		}
	}

	observers := observerSet{
		app:  make([]func(AppState), 0, len(m.appObservers)),
		conn: make([]func(ConnectionState, string), 0, len(m.connObservers)),
		task: make([]func(TaskState, string), 0, len(m.taskObservers)),
	}
	for _, fn := range m.appObservers {
		observers.app = append(observers.app, fn)
	}
	for _, fn := range m.connObservers {
		observers.conn = append(observers.conn, fn)
	}
	for _, fn := range m.taskObservers {
		observers.task = append(observers.task, fn)
	}
	return notifs, observers
}

// transitionTaskLocked changes the task state and manages the stop watchdog:
// entering stopping arms the timer, leaving stopping for any reason cancels
// it. The watchdog guarantees the client can never be stuck unable to start
// a new task because a stop request went unanswered.
func (m *Manager) transitionTaskLocked(next TaskState) {
	prev := m.app.Task
	m.app.Task = next

	if prev == TaskStopping && next != TaskStopping && m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	if next == TaskStopping && prev != TaskStopping {
		if m.stopTimer != nil {
			m.stopTimer.Stop()
		}
		m.stopTimer = time.AfterFunc(m.stopTimeout, m.onStopTimeout)
	}
}

func (m *Manager) onStopTimeout() {
	m.mu.Lock()
	stuck := m.app.Task == TaskStopping
	m.mu.Unlock()
	if !stuck {
		return
	}
	m.logger.Warn("stop watchdog fired, forcing task to idle")
	m.UpdateTaskState(TaskIdle, errors.New("stop timed out"))
}
