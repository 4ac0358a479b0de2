package tts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionState is the lifecycle of a streaming connection
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionConnecting
	SessionOpen
)

func (s SessionState) String() string {
	switch s {
	case SessionClosed:
		return "closed"
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	default:
		return "unknown"
	}
}

const defaultHandshakeTimeout = 15 * time.Second

type conn interface {
	comparable
	Close() error
}

type connectAttempt[C conn] struct {
	done chan struct{}
	conn C
	err  error
}

// sessionManager owns at most one Connecting/Open connection. Concurrent ensure calls while
// connecting all wait on the same attempt. dial performs the whole handshake; onOpen runs
// before any waiter is released.
type sessionManager[C conn] struct {
	mu      sync.Mutex
	state   SessionState
	current C
	attempt *connectAttempt[C]
	dials   int

	dial    func(ctx context.Context) (C, error)
	onOpen  func(C)
	timeout time.Duration
}

func newSessionManager[C conn](dial func(context.Context) (C, error), onOpen func(C)) *sessionManager[C] {
	return &sessionManager[C]{dial: dial, onOpen: onOpen, timeout: defaultHandshakeTimeout}
}

// ensure returns the open connection, joining or starting a connect attempt as needed. The
// dial itself is detached from ctx so one impatient caller cannot fail the others.
func (m *sessionManager[C]) ensure(ctx context.Context) (C, error) {
	var zero C

	m.mu.Lock()
	switch m.state {
	case SessionOpen:
		c := m.current
		m.mu.Unlock()
		return c, nil
	case SessionClosed:
		m.attempt = &connectAttempt[C]{done: make(chan struct{})}
		m.state = SessionConnecting
		m.dials++
		go m.connect(m.attempt)
	}
	a := m.attempt
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.conn, a.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (m *sessionManager[C]) connect(a *connectAttempt[C]) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	c, err := m.dial(ctx)

	m.mu.Lock()
	if m.attempt != a {
		// close() ran while we were dialing
		m.mu.Unlock()
		if err == nil {
			c.Close()
		}
		a.err = fmt.Errorf("%w: session closed while connecting", ErrConnection)
		close(a.done)
		return
	}
	m.attempt = nil
	if err != nil {
		m.state = SessionClosed
		m.mu.Unlock()
		a.err = err
		close(a.done)
		return
	}
	m.state = SessionOpen
	m.current = c
	m.mu.Unlock()

	a.conn = c
	if m.onOpen != nil {
		m.onOpen(c)
	}
	close(a.done)
}

// drop marks c as gone after a transport-level failure. It reports whether c was the
// current connection.
func (m *sessionManager[C]) drop(c C) bool {
	var zero C
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SessionOpen || m.current != c {
		return false
	}
	m.state = SessionClosed
	m.current = zero
	return true
}

// close resets to Closed and hands back the connection that was open, if any
func (m *sessionManager[C]) close() (C, bool) {
	var zero C
	m.mu.Lock()
	defer m.mu.Unlock()
	c, wasOpen := m.current, m.state == SessionOpen
	m.state = SessionClosed
	m.current = zero
	m.attempt = nil
	return c, wasOpen
}

// open returns the connection if the session is Open
func (m *sessionManager[C]) open() (C, bool) {
	var zero C
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SessionOpen {
		return zero, false
	}
	return m.current, true
}

// owns reports whether c is the open connection
func (m *sessionManager[C]) owns(c C) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == SessionOpen && m.current == c
}

func (m *sessionManager[C]) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dials returns how many connect attempts have been started
func (m *sessionManager[C]) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}
