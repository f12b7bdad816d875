// Package client owns the transport lifecycle: connect/reconnect,
// heartbeat and health checking, frame translation, tunnel routing,
// and archival into the history store.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"relay/cli/internal/history"
	"relay/cli/internal/protocol"
	"relay/cli/internal/state"
	"relay/cli/internal/tunnel"
	"relay/cli/internal/wsock"
)

const (
	defaultHeartbeatInterval  = 30 * time.Second
	defaultHealthInterval     = 30 * time.Second
	defaultHealthTimeout      = 75 * time.Second
	defaultConnectBaseDelay   = 500 * time.Millisecond
	defaultConnectMaxRetries  = 3
	defaultReconnectBaseDelay = time.Second
	defaultReconnectMaxDelay  = 30 * time.Second
	defaultMaxReconnects      = 10

	persistQueueSize = 256
)

// RunPreparer provisions a run on the peer before the socket opens.
type RunPreparer interface {
	PrepareRun(ctx context.Context, runID string) error
}

type Options struct {
	// ServerURL is the websocket endpoint, e.g. wss://host/agent/ws.
	ServerURL string
	// APIBaseURL is the orchestrator HTTP base for the prepare-run
	// call. Empty disables the call.
	APIBaseURL string
	Token      string

	Dialer   wsock.Dialer
	States   *state.Manager
	Store    *history.Store
	Tunnel   *tunnel.Responder
	Preparer RunPreparer
	Logger   *slog.Logger

	HeartbeatInterval    time.Duration
	HealthCheckInterval  time.Duration
	HealthCheckTimeout   time.Duration
	ConnectBaseDelay     time.Duration
	ConnectMaxRetries    uint64
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

type persistJob struct {
	runID string
	msg   history.StoredMessage
}

// Client is the connection client. One instance owns one socket, one
// run id, and one in-memory message archive at a time.
type Client struct {
	opts     Options
	logger   *slog.Logger
	states   *state.Manager
	store    *history.Store
	tunnel   *tunnel.Responder
	dialer   wsock.Dialer
	preparer RunPreparer

	mu                sync.Mutex
	sock              wsock.Socket
	runID             string
	connected         bool
	connecting        bool
	manualClose       bool
	gen               int
	reconnectAttempts int
	reconnectTimer    *time.Timer
	lastPong          time.Time
	cancelRead        context.CancelFunc
	heartbeatStop     chan struct{}
	messages          []history.StoredMessage

	persistCh   chan persistJob
	persistDone chan struct{}
	closeOnce   sync.Once
}

func New(opts Options) (*Client, error) {
	if opts.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if opts.States == nil {
		return nil, errors.New("state manager is required")
	}
	if opts.Store == nil {
		return nil, errors.New("history store is required")
	}
	if opts.Tunnel == nil {
		return nil, errors.New("tunnel responder is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = defaultHealthInterval
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = defaultHealthTimeout
	}
	if opts.ConnectBaseDelay <= 0 {
		opts.ConnectBaseDelay = defaultConnectBaseDelay
	}
	if opts.ConnectMaxRetries == 0 {
		opts.ConnectMaxRetries = defaultConnectMaxRetries
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnects
	}

	preparer := opts.Preparer
	if preparer == nil && opts.APIBaseURL != "" {
		preparer = NewPrepareClient(opts.APIBaseURL, opts.Token)
	}

	c := &Client{
		opts:        opts,
		logger:      opts.Logger,
		states:      opts.States,
		store:       opts.Store,
		tunnel:      opts.Tunnel,
		dialer:      opts.Dialer,
		preparer:    preparer,
		persistCh:   make(chan persistJob, persistQueueSize),
		persistDone: make(chan struct{}),
	}
	go c.persistLoop()
	return c, nil
}

// persistLoop is the single writer into the history store. One
// consumer keeps archival writes in wire order.
func (c *Client) persistLoop() {
	defer close(c.persistDone)
	for job := range c.persistCh {
		if err := c.store.SaveMessage(job.runID, job.msg); err != nil {
			c.logger.Warn("message archival failed", "run_id", job.runID, "error", err)
		}
	}
}

// Connect opens a connection under a fresh run id. Refuses while a
// connection attempt or session is in progress. The dial is retried
// with exponential backoff; exhausting retries is a terminal failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.manualClose = false
	c.reconnectAttempts = 0
	c.runID = newRunID()
	runID := c.runID
	c.mu.Unlock()

	c.states.SetRunID(runID)
	c.states.UpdateConnectionState(state.ConnConnecting, nil)

	if c.preparer != nil {
		// The run may already exist on the peer, so a failure here is
		// not fatal.
		if err := c.preparer.PrepareRun(ctx, runID); err != nil {
			c.logger.Warn("prepare run failed", "run_id", runID, "error", err)
		}
	}

	var sock wsock.Socket
	dial := func() error {
		s, err := c.dialer.Dial(ctx, c.wsURL(runID))
		if err != nil {
			cerr := classifyDialError(err)
			if !cerr.Retryable() {
				return backoff.Permanent(cerr)
			}
			return cerr
		}
		sock = s
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ConnectBaseDelay
	policy.MaxElapsedTime = 0
	err := backoff.Retry(dial, backoff.WithContext(backoff.WithMaxRetries(policy, c.opts.ConnectMaxRetries), ctx))
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.states.UpdateConnectionState(state.ConnError, err)
		return fmt.Errorf("connect: %w", err)
	}

	c.onOpen(sock)
	return nil
}

func (c *Client) wsURL(runID string) string {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return c.opts.ServerURL
	}
	q := u.Query()
	q.Set("run_id", runID)
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) onOpen(sock wsock.Socket) {
	c.mu.Lock()
	c.sock = sock
	c.connected = true
	c.connecting = false
	c.reconnectAttempts = 0
	c.lastPong = time.Now()
	c.gen++
	gen := c.gen
	readCtx, cancel := context.WithCancel(context.Background())
	c.cancelRead = cancel
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.states.UpdateConnectionState(state.ConnConnected, nil)
	c.states.UpdateTaskState(state.TaskIdle, nil)

	if frame, err := c.tunnel.Announce(); err != nil {
		c.logger.Warn("tool registration frame failed", "error", err)
	} else if err := sock.WriteText(readCtx, string(frame)); err != nil {
		c.logger.Warn("tool registration send failed", "error", err)
	}

	go c.readLoop(readCtx, sock, gen)
	go c.heartbeatLoop(sock, stop)
}

func (c *Client) readLoop(ctx context.Context, sock wsock.Socket, gen int) {
	for {
		text, err := sock.ReadText(ctx)
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleFrame(ctx, sock, text)
	}
}

func (c *Client) handleFrame(ctx context.Context, sock wsock.Socket, text string) {
	if rpc, ok := protocol.UnwrapTunnel([]byte(text)); ok {
		resp := c.tunnel.Handle(ctx, rpc)
		if resp == nil {
			return
		}
		frame, err := protocol.WrapTunnel(resp)
		if err != nil {
			c.logger.Error("tunnel response wrap failed", "error", err)
			return
		}
		if err := sock.WriteText(ctx, string(frame)); err != nil {
			c.logger.Warn("tunnel response send failed", "error", err)
		}
		return
	}

	msg := protocol.Parse(text, time.Now().UTC())
	if msg.Type == protocol.TypePing || msg.Type == protocol.TypePong {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		c.states.InferStateFromMessage(msg)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Content == "" {
		msg.Content = translate(msg)
	}
	c.states.InferStateFromMessage(msg)
	c.archive(msg)
}

// archive appends to the in-memory log and queues the fire-and-forget
// persistence write.
func (c *Client) archive(msg protocol.Message) {
	c.mu.Lock()
	runID := c.runID
	stored := history.StoredMessage{Message: msg}
	c.messages = append(c.messages, stored)
	c.mu.Unlock()

	select {
	case c.persistCh <- persistJob{runID: runID, msg: stored}:
	default:
		c.logger.Warn("persist queue full, dropping archival write", "run_id", runID, "type", msg.Type)
	}
}

func (c *Client) handleClose(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen || !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.sock = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	manual := c.manualClose
	c.mu.Unlock()

	if manual {
		return
	}

	code := wsock.CloseStatus(cause)
	if code == wsock.StatusNormalClosure {
		c.states.UpdateConnectionState(state.ConnClosed, nil)
		return
	}

	c.logger.Warn("connection lost", "close_code", code, "error", cause)
	c.states.UpdateConnectionState(state.ConnClosed, cause)
	c.scheduleReconnect()
}

// scheduleReconnect arms the next reconnect attempt with a doubling
// delay capped at the configured maximum. Exhausting the attempt
// budget is terminal.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	if attempt > c.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		c.states.UpdateConnectionState(state.ConnError,
			fmt.Errorf("reconnect attempts exhausted after %d tries", attempt-1))
		return
	}
	delay := c.opts.ReconnectBaseDelay
	for i := 1; i < attempt && delay < c.opts.ReconnectMaxDelay; i++ {
		delay *= 2
	}
	if delay > c.opts.ReconnectMaxDelay {
		delay = c.opts.ReconnectMaxDelay
	}
	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()
}

// reconnect dials once under the existing run id. A failure goes back
// through scheduleReconnect for the next doubled delay.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.manualClose || c.connected || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	runID := c.runID
	c.mu.Unlock()

	c.states.UpdateConnectionState(state.ConnConnecting, nil)

	sock, err := c.dialer.Dial(context.Background(), c.wsURL(runID))
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.logger.Warn("reconnect dial failed", "error", err)
		c.states.UpdateConnectionState(state.ConnClosed, err)
		c.scheduleReconnect()
		return
	}
	c.onOpen(sock)
}

func (c *Client) heartbeatLoop(sock wsock.Socket, stop <-chan struct{}) {
	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	health := time.NewTicker(c.opts.HealthCheckInterval)
	defer health.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeat.C:
			frame, err := json.Marshal(protocol.Message{
				Type:      protocol.TypePing,
				Direction: protocol.DirectionOutgoing,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				continue
			}
			if err := sock.WriteText(context.Background(), string(frame)); err != nil {
				c.logger.Warn("heartbeat send failed", "error", err)
			}
		case <-health.C:
			c.mu.Lock()
			last := c.lastPong
			c.mu.Unlock()
			if time.Since(last) > c.opts.HealthCheckTimeout {
				// The read loop observes the close and drives the
				// reconnect path.
				c.logger.Warn("liveness ack overdue, dropping connection")
				_ = sock.Close()
				return
			}
		}
	}
}

// Disconnect closes the connection with a normal close code and resets
// state. Explicit disconnects never trigger reconnection, including one
// already scheduled; manualClose is set before the guard so a pending
// reconnect timer is always disarmed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manualClose = true
	hadTimer := c.reconnectTimer != nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if !c.connected && !c.connecting && !hadTimer {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sock := c.sock
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
	c.states.UpdateConnectionState(state.ConnClosed, nil)
	c.states.Reset()
	return nil
}

// Close tears down the client for good, flushing queued archival
// writes.
func (c *Client) Close() error {
	_ = c.Disconnect()
	c.closeOnce.Do(func() {
		close(c.persistCh)
	})
	<-c.persistDone
	return nil
}

// SendMessage transmits a message and archives an outgoing copy
// through the same pipeline used for inbound frames.
func (c *Client) SendMessage(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	sock := c.sock
	connected := c.connected
	c.mu.Unlock()
	if !connected || sock == nil {
		return ErrNotConnected
	}

	msg.Direction = protocol.DirectionOutgoing
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := sock.WriteText(ctx, string(frame)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if msg.Content == "" {
		msg.Content = translate(msg)
	}
	c.archive(msg)
	return nil
}

// StartTask asks the peer to run a task. The task state is set
// optimistically and rolled back if transmission fails.
func (c *Client) StartTask(ctx context.Context, agentID, task string) error {
	if !c.states.CanStartTask() {
		return &ClassifiedError{Category: CategoryTask, Err: errors.New("cannot start a task in the current state")}
	}
	c.states.UpdateTaskState(state.TaskStarting, nil)

	msg := protocol.Message{
		Type:    protocol.TypeStart,
		Payload: protocol.MustRaw(protocol.StartPayload{AgentID: agentID, Task: task}),
	}
	if err := c.SendMessage(ctx, msg); err != nil {
		c.states.UpdateTaskState(state.TaskIdle, err)
		return &ClassifiedError{Category: CategoryTask, Err: err}
	}
	return nil
}

// StopTask sends a cooperative stop request. The stop watchdog bounds
// how long the stopping state can last.
func (c *Client) StopTask(ctx context.Context, reason string) error {
	if !c.states.CanStopTask() {
		return &ClassifiedError{Category: CategoryTask, Err: errors.New("no running task to stop")}
	}
	c.states.UpdateTaskState(state.TaskStopping, nil)

	msg := protocol.Message{
		Type:    protocol.TypeStop,
		Payload: protocol.MustRaw(protocol.StopPayload{Reason: reason}),
	}
	if err := c.SendMessage(ctx, msg); err != nil {
		c.states.UpdateTaskState(state.TaskRunning, err)
		return &ClassifiedError{Category: CategoryTask, Err: err}
	}
	return nil
}

// SendInputResponse answers a pending input request; the task returns
// to running.
func (c *Client) SendInputResponse(ctx context.Context, response string) error {
	if c.states.Snapshot().Task != state.TaskAwaitingInput {
		return &ClassifiedError{Category: CategoryTask, Err: errors.New("no pending input request")}
	}
	msg := protocol.Message{
		Type:    protocol.TypeInputResponse,
		Payload: protocol.MustRaw(protocol.InputResponsePayload{Response: response}),
	}
	if err := c.SendMessage(ctx, msg); err != nil {
		return err
	}
	c.states.UpdateTaskState(state.TaskRunning, nil)
	return nil
}

// Messages returns a snapshot of the in-memory archive for the current
// session.
func (c *Client) Messages() []history.StoredMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]history.StoredMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// ClearMessages drops the in-memory archive. Persisted history is
// untouched.
func (c *Client) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// RunID returns the current session's run id, empty before the first
// connect.
func (c *Client) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

func newRunID() string {
	return strconv.FormatUint(uint64(rand.Uint32()&0x7FFFFFFF), 10)
}
