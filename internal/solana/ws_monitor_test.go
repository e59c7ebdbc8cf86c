package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWSConn is an in-memory wsConn for monitor tests.
type fakeWSConn struct {
	incoming chan []byte
	readErr  chan error
	done     chan struct{}

	mu     sync.Mutex
	writes []any

	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{
		incoming: make(chan []byte, 16),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeWSConn) WriteJSON(v any) error {
	if c.closed.Load() {
		return errors.New("write on closed connection")
	}
	c.mu.Lock()
	c.writes = append(c.writes, v)
	c.mu.Unlock()
	return nil
}

func (c *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	if c.closed.Load() {
		return errors.New("write on closed connection")
	}
	return nil
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.incoming:
		return websocket.TextMessage, msg, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeWSConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeWSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *fakeWSConn) subscribeRequest() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	req, _ := c.writes[0].(map[string]any)
	return req
}

func logsNotificationJSON(sig string, slot uint64, logs []string, failed bool) []byte {
	value := map[string]any{
		"signature": sig,
		"logs":      logs,
	}
	if failed {
		value["err"] = map[string]any{"InstructionError": []any{0, "Custom"}}
	} else {
		value["err"] = nil
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"subscription": 1,
			"result": map[string]any{
				"context": map[string]any{"slot": slot},
				"value":   value,
			},
		},
	}
	data, _ := json.Marshal(msg)
	return data
}

func testMonitor(dial dialFunc) *LogMonitor {
	m := NewLogMonitor(MonitorConfig{
		WSEndpoint: "wss://fake.test",
		ProgramID:  string(MeteoraProgramID),
	})
	m.dial = dial
	m.backoff = func(int) time.Duration { return 5 * time.Millisecond }
	return m
}

func TestMonitorEmitsEvents(t *testing.T) {
	conn := newFakeWSConn()
	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		return conn, nil
	})

	events, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	conn.incoming <- logsNotificationJSON("sig-creation-1", 1000, []string{
		"Program log: Instruction: initialize",
	}, false)

	select {
	case ev := <-events:
		assert.Equal(t, Signature("sig-creation-1"), ev.Signature)
		assert.Equal(t, uint64(1000), ev.Slot)
		assert.Len(t, ev.Logs, 1)
		assert.False(t, ev.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}

	// Subscription request went out before any events.
	req := conn.subscribeRequest()
	require.NotNil(t, req)
	assert.Equal(t, "logsSubscribe", req["method"])
}

func TestMonitorSkipsFailedTransactions(t *testing.T) {
	conn := newFakeWSConn()
	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		return conn, nil
	})

	events, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	conn.incoming <- logsNotificationJSON("sig-failed", 1001, []string{"Program log: createPool"}, true)
	conn.incoming <- logsNotificationJSON("sig-ok", 1002, []string{"Program log: createPool"}, false)

	select {
	case ev := <-events:
		assert.Equal(t, Signature("sig-ok"), ev.Signature)
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.MessagesRecv)
	assert.Equal(t, int64(1), stats.EventsEmitted)
}

func TestMonitorReconnectsAfterTransportDrop(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeWSConn

	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		// The previous handle must be fully discarded first.
		for _, prev := range conns {
			if !prev.closed.Load() {
				return nil, fmt.Errorf("dial while previous handle still open")
			}
		}
		conn := newFakeWSConn()
		conns = append(conns, conn)
		return conn, nil
	})

	events, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	// Wait for the first connection, then drop it.
	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.readErr <- errors.New("connection reset by peer")

	// Exactly one replacement handle appears and resubscribes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2 && conns[1].subscribeRequest() != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, m.Stats().Reconnects, int64(1))
	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// The new handle still delivers events.
	mu.Lock()
	second := conns[1]
	mu.Unlock()
	second.incoming <- logsNotificationJSON("sig-after-reconnect", 2000, []string{"createLiquidity"}, false)

	select {
	case ev := <-events:
		assert.Equal(t, Signature("sig-after-reconnect"), ev.Signature)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	conn := newFakeWSConn()
	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		return conn, nil
	})

	events, err := m.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()

	assert.Equal(t, StateStopped, m.State())
	assert.True(t, conn.closed.Load())

	// Event channel is closed after stop.
	_, open := <-events
	assert.False(t, open)
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		return newFakeWSConn(), nil
	})
	m.Stop() // must not hang
}

func TestMonitorDoubleStartRejected(t *testing.T) {
	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		return newFakeWSConn(), nil
	})
	_, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	_, err = m.Start(context.Background())
	assert.Error(t, err)
}

func TestMonitorRetriesFailedDial(t *testing.T) {
	var dials atomic.Int64
	conn := newFakeWSConn()

	m := testMonitor(func(ctx context.Context, endpoint string) (wsConn, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	})

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, dials.Load(), int64(3))
	assert.GreaterOrEqual(t, m.Stats().Reconnects, int64(2))
}
