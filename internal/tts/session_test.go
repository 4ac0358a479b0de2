package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionManagerCoalescesConnects(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32
	opened := 0
	m := newSessionManager(func(context.Context) (*fakeConn, error) {
		dials.Add(1)
		<-release
		return &fakeConn{}, nil
	}, func(*fakeConn) { opened++ })

	const callers = 8
	var wg sync.WaitGroup
	conns := make([]*fakeConn, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ensure(context.Background())
			if err != nil {
				t.Errorf("ensure() failed: %v", err)
			}
			conns[i] = c
		}(i)
	}

	waitFor(t, "connecting state", func() bool { return m.State() == SessionConnecting })
	close(release)
	wg.Wait()

	if dials.Load() != 1 || m.Dials() != 1 {
		t.Errorf("Expected exactly one dial, got %d", dials.Load())
	}
	if opened != 1 {
		t.Errorf("Expected onOpen once, got %d", opened)
	}
	for i := 1; i < callers; i++ {
		if conns[i] != conns[0] {
			t.Fatal("Expected every caller to share one connection")
		}
	}
	if m.State() != SessionOpen {
		t.Errorf("Expected open state, got %s", m.State())
	}
}

func TestSessionManagerDialFailureResetsToClosed(t *testing.T) {
	fail := true
	m := newSessionManager(func(context.Context) (*fakeConn, error) {
		if fail {
			return nil, ErrConnection
		}
		return &fakeConn{}, nil
	}, nil)

	if _, err := m.ensure(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected ErrConnection, got %v", err)
	}
	if m.State() != SessionClosed {
		t.Fatalf("Expected closed after failure, got %s", m.State())
	}

	fail = false
	if _, err := m.ensure(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if m.Dials() != 2 {
		t.Errorf("Expected 2 dials, got %d", m.Dials())
	}
}

func TestSessionManagerDropAndReconnect(t *testing.T) {
	m := newSessionManager(func(context.Context) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, nil)

	first, _ := m.ensure(context.Background())
	if m.drop(&fakeConn{}) {
		t.Error("Dropping a foreign connection must be ignored")
	}
	if !m.drop(first) {
		t.Fatal("Expected drop of the current connection to succeed")
	}
	if m.drop(first) {
		t.Error("Expected second drop to report false")
	}

	second, err := m.ensure(context.Background())
	if err != nil || second == first {
		t.Fatalf("Expected a fresh connection, got %v / %v", second, err)
	}
}

func TestSessionManagerCloseWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	conn := &fakeConn{}
	m := newSessionManager(func(context.Context) (*fakeConn, error) {
		<-release
		return conn, nil
	}, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := m.ensure(context.Background())
		errc <- err
	}()
	waitFor(t, "connecting state", func() bool { return m.State() == SessionConnecting })

	if _, wasOpen := m.close(); wasOpen {
		t.Error("Expected close during connect to report no open connection")
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection for superseded attempt, got %v", err)
	}
	if !conn.closed.Load() {
		t.Error("Expected the late connection to be closed")
	}
	if m.State() != SessionClosed {
		t.Errorf("Expected closed state, got %s", m.State())
	}
}

func TestSessionManagerCallerContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := newSessionManager(func(context.Context) (*fakeConn, error) {
		<-release
		return &fakeConn{}, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.ensure(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected caller deadline, got %v", err)
	}
	if m.State() != SessionConnecting {
		t.Errorf("Expected attempt to continue for other callers, got %s", m.State())
	}
}
