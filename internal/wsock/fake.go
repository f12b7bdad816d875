package wsock

import (
	"context"
	"io"
	"sync"
)

// FakeSocket is an in-memory Socket for tests. Reads are fed through
// EmitText/FailWith; writes are captured for inspection.
type FakeSocket struct {
	mu       sync.Mutex
	sent     []string
	closed   bool
	writeErr error

	readCh chan readEvent
}

type readEvent struct {
	text string
	err  error
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{readCh: make(chan readEvent, 64)}
}

// EmitText queues a frame for the next ReadText call.
func (f *FakeSocket) EmitText(text string) {
	f.readCh <- readEvent{text: text}
}

// FailWith makes the next ReadText return err, simulating transport loss.
func (f *FakeSocket) FailWith(err error) {
	f.readCh <- readEvent{err: err}
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case ev, ok := <-f.readCh:
		if !ok {
			return "", io.EOF
		}
		return ev.text, ev.err
	}
}

// SetWriteError makes subsequent WriteText calls fail with err.
func (f *FakeSocket) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *FakeSocket) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readCh)
	return nil
}

// Sent returns a copy of every frame written so far.
func (f *FakeSocket) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeSocket) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeDialer returns a fresh socket per dial and counts attempts.
type FakeDialer struct {
	mu      sync.Mutex
	sockets []*FakeSocket
	urls    []string
	dialErr error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

func (d *FakeDialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	sock := NewFakeSocket()
	d.sockets = append(d.sockets, sock)
	d.urls = append(d.urls, url)
	return sock, nil
}

// URL returns the address passed to the i-th successful dial.
func (d *FakeDialer) URL(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.urls) {
		return ""
	}
	return d.urls[i]
}

func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *FakeDialer) Socket(i int) *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.sockets) {
		return nil
	}
	return d.sockets[i]
}
