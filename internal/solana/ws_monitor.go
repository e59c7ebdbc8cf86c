package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Log Monitor — live program log stream via logsSubscribe
// Emits one LogEvent per observed transaction signature; reconnects forever.
// ---------------------------------------------------------------------------

// MonitorState is the connection state of the log monitor.
type MonitorState string

const (
	StateReconnecting MonitorState = "reconnecting"
	StateConnected    MonitorState = "connected"
	StateStopped      MonitorState = "stopped"
)

// LogEvent is emitted for every logs notification on the subscription.
// Ordering across reconnects is not guaranteed; consumers must dedup.
type LogEvent struct {
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	Logs       []string  `json:"logs"`
	ReceivedAt time.Time `json:"received_at"`
}

// MonitorConfig configures the WebSocket log monitor.
type MonitorConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ProgramID        string `yaml:"program_id"`
	Commitment       string `yaml:"commitment"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
}

// DefaultMonitorConfig returns defaults for mainnet monitoring.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ProgramID:        string(MeteoraProgramID),
		Commitment:       "confirmed",
		ReconnectDelayMs: 5000,
		PingIntervalS:    30,
	}
}

// wsConn is the subset of *websocket.Conn the monitor uses; tests inject
// fakes through the dial function.
type wsConn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// dialFunc establishes a websocket connection to the endpoint.
type dialFunc func(ctx context.Context, endpoint string) (wsConn, error)

func gorillaDial(ctx context.Context, endpoint string) (wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	return conn, nil
}

// LogMonitor maintains the single live logsSubscribe handle for a program
// and retries the subscription forever on transport failure.
type LogMonitor struct {
	config MonitorConfig

	dial    dialFunc
	backoff func(attempt int) time.Duration

	mu   sync.Mutex
	conn wsConn

	eventCh chan LogEvent
	stopCh  chan struct{}
	stop    sync.Once
	started atomic.Bool
	done    chan struct{}

	state atomic.Value // MonitorState

	// Stats.
	messagesRecv  atomic.Int64
	eventsEmitted atomic.Int64
	eventsDropped atomic.Int64
	reconnects    atomic.Int64
	nextSubID     atomic.Int64
}

// NewLogMonitor creates a log monitor for the configured program.
func NewLogMonitor(config MonitorConfig) *LogMonitor {
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}
	if config.ReconnectDelayMs <= 0 {
		config.ReconnectDelayMs = 5000
	}
	delay := time.Duration(config.ReconnectDelayMs) * time.Millisecond
	m := &LogMonitor{
		config:  config,
		dial:    gorillaDial,
		backoff: func(int) time.Duration { return delay },
		eventCh: make(chan LogEvent, 256),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.state.Store(StateReconnecting)
	return m
}

// State returns the current connection state.
func (m *LogMonitor) State() MonitorState {
	return m.state.Load().(MonitorState)
}

// Start launches the subscription loop and returns the event channel.
// The channel is closed when the monitor stops.
func (m *LogMonitor) Start(ctx context.Context) (<-chan LogEvent, error) {
	if !m.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("ws: monitor already started")
	}
	go m.runLoop(ctx)
	return m.eventCh, nil
}

// Stop tears down the live subscription handle synchronously. Idempotent.
func (m *LogMonitor) Stop() {
	m.stop.Do(func() {
		close(m.stopCh)
		m.disconnect()
	})
	if m.started.Load() {
		<-m.done
	}
}

func (m *LogMonitor) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: runLoop panic recovered")
		}
		m.disconnect()
		m.state.Store(StateStopped)
		close(m.eventCh)
		close(m.done)
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		m.state.Store(StateReconnecting)

		// The previous handle is fully discarded before a new one exists.
		m.disconnect()

		conn, err := m.dial(ctx, m.config.WSEndpoint)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("ws: connection failed")
			m.reconnects.Add(1)
			if !m.wait(ctx, m.backoff(attempt)) {
				return
			}
			attempt++
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		if err := m.subscribe(conn); err != nil {
			log.Warn().Err(err).Msg("ws: subscribe failed")
			m.reconnects.Add(1)
			if !m.wait(ctx, m.backoff(attempt)) {
				return
			}
			attempt++
			continue
		}

		m.state.Store(StateConnected)
		attempt = 0
		log.Info().Str("endpoint", m.config.WSEndpoint).Str("program", shortKey(m.config.ProgramID)).
			Msg("ws: subscribed to program logs")

		// Read until the transport drops, then go around for a reconnect.
		m.readLoop(ctx, conn)

		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		m.reconnects.Add(1)
		if !m.wait(ctx, m.backoff(attempt)) {
			return
		}
	}
}

// wait sleeps for d, returning false if the monitor should stop.
func (m *LogMonitor) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	}
}

func (m *LogMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// subscribe sends a logsSubscribe request mentioning the program.
func (m *LogMonitor) subscribe(conn wsConn) error {
	subID := m.nextSubID.Add(1)
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      subID,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{
				"mentions": []string{m.config.ProgramID},
			},
			map[string]any{
				"commitment": m.config.Commitment,
			},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}
	return nil
}

func (m *LogMonitor) readLoop(ctx context.Context, conn wsConn) {
	pingInterval := time.Duration(m.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Msg("ws: ping failed")
				return
			}
		default:
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			return
		}

		m.messagesRecv.Add(1)
		m.handleMessage(message)
	}
}

func (m *LogMonitor) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string   `json:"signature"`
					Err       any      `json:"err"`
					Logs      []string `json:"logs"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
			Subscription int `json:"subscription"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "logsNotification" {
		// Could be a subscription confirmation response.
		var subResp struct {
			Result int `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result > 0 {
			log.Debug().Int("sub_id", subResp.Result).Msg("ws: subscription confirmed")
		}
		return
	}

	value := notification.Params.Result.Value
	if value.Signature == "" {
		return
	}
	// Failed transactions cannot have created a pool.
	if value.Err != nil {
		return
	}

	event := LogEvent{
		Signature:  Signature(value.Signature),
		Slot:       notification.Params.Result.Context.Slot,
		Logs:       value.Logs,
		ReceivedAt: time.Now(),
	}

	select {
	case m.eventCh <- event:
		m.eventsEmitted.Add(1)
		log.Debug().Str("sig", shortKey(value.Signature)).
			Uint64("slot", event.Slot).Msg("ws: log event")
	default:
		m.eventsDropped.Add(1)
		log.Warn().Msg("ws: event channel full, dropping signature")
	}
}

func shortKey(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// MonitorStats returns monitor statistics.
type MonitorStats struct {
	State         MonitorState `json:"state"`
	MessagesRecv  int64        `json:"messages_recv"`
	EventsEmitted int64        `json:"events_emitted"`
	EventsDropped int64        `json:"events_dropped"`
	Reconnects    int64        `json:"reconnects"`
}

func (m *LogMonitor) Stats() MonitorStats {
	return MonitorStats{
		State:         m.State(),
		MessagesRecv:  m.messagesRecv.Load(),
		EventsEmitted: m.eventsEmitted.Load(),
		EventsDropped: m.eventsDropped.Load(),
		Reconnects:    m.reconnects.Load(),
	}
}
