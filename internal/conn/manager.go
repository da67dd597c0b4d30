// Package conn owns the client's single WebSocket connection: it establishes
// it, observes failures, reconnects with capped exponential backoff and
// exposes a tri-state status.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
)

// ErrNotConnected is returned by Send and SendRaw when the connection is not open.
var ErrNotConnected = errors.New("connection is not open")

const maxLoggedPayload = 256

// EventHandler receives decoded inbound events, one at a time, in arrival order.
type EventHandler func(protocol.Event)

// Option configures a Manager.
type Option func(*Manager)

// WithDialer sets the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithScheduler sets the scheduler used for reconnect timers.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithBackoff sets the reconnect delay policy.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxAttempts caps consecutive reconnect attempts. Zero means unlimited.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("conn")
		}
	}
}

// WithEventHandler sets the receiver for inbound events.
func WithEventHandler(h EventHandler) Option {
	return func(m *Manager) { m.onEvent = h }
}

// Stats is a point-in-time view of the manager's counters.
type Stats struct {
	Status              Status `json:"status"`
	Attempt             int    `json:"attempt"`
	ReconnectsScheduled int64  `json:"reconnects_scheduled"`
	EventsReceived      int64  `json:"events_received"`
	DecodeFailures      int64  `json:"decode_failures"`
	OutboundDropped     int64  `json:"outbound_dropped"`
}

// Manager maintains at most one live transport and reconnects automatically.
type Manager struct {
	url         string
	dialer      Dialer
	scheduler   Scheduler
	backoff     Backoff
	maxAttempts int
	logger      *zap.Logger
	onEvent     EventHandler

	mu        sync.Mutex
	status    Status
	transport Transport
	// generation identifies the current transport; callbacks carrying an
	// older generation belong to a superseded transport and are ignored.
	generation uint64
	attempt    int
	retry      Timer
	stats      Stats

	// deliverMu serializes handler calls across transports.
	deliverMu sync.Mutex
	stateChan chan Status
}

// NewManager creates a manager for the given endpoint. It does not connect.
func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:       url,
		dialer:    &WSDialer{HandshakeTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		scheduler: RealScheduler{},
		backoff:   DefaultBackoff,
		logger:    zap.NewNop(),
		status:    StatusDisconnected,
		stateChan: make(chan Status, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.ConnectionStatus.Set(m.status.gauge())
	return m
}

// URL returns the endpoint the manager dials.
func (m *Manager) URL() string {
	return m.url
}

// Connect establishes the connection. It is a no-op while a transport is
// open or being opened. The dial runs in the caller's goroutine; a failed
// dial is handled like a close and schedules a reconnect.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	m.generation++
	gen := m.generation
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	m.logger.Debug("connecting", zap.String("url", m.url))
	t, err := m.dialer.Dial(ctx, m.url)

	m.mu.Lock()
	if gen != m.generation {
		// Disconnected while dialing.
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("failed to connect", zap.String("url", m.url), zap.Error(err))
		m.handleCloseLocked(gen)
		m.mu.Unlock()
		return
	}
	m.transport = t
	m.attempt = 0
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", m.url))
	go m.readLoop(gen, t)
}

// Disconnect cancels any pending reconnect, resets the attempt counter and
// closes the transport. Connect must be called again to resume.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelRetryLocked()
	m.attempt = 0
	m.generation++
	t := m.transport
	m.transport = nil
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	m.logger.Info("disconnected")
}

// Send transmits a chat turn. The conversation id is omitted when empty.
func (m *Manager) Send(message, userID, conversationID string) error {
	return m.write("message", protocol.ChatMessage{
		Message:        message,
		UserID:         userID,
		ConversationID: conversationID,
	})
}

// SendRaw transmits a caller-supplied payload.
func (m *Manager) SendRaw(payload map[string]any) error {
	return m.write("raw", payload)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StatusChanges returns a channel that receives every status transition.
// Transitions are dropped when the channel is full.
func (m *Manager) StatusChanges() <-chan Status {
	return m.stateChan
}

// Attempt returns the number of consecutive reconnects scheduled since the last successful open.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Stats returns connection statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Status = m.status
	s.Attempt = m.attempt
	return s
}

func (m *Manager) write(kind string, v any) error {
	m.mu.Lock()
	t := m.transport
	if m.status != StatusConnected || t == nil {
		m.stats.OutboundDropped++
		m.mu.Unlock()
		metrics.OutboundDropped.WithLabelValues(kind).Inc()
		m.logger.Warn("dropping outbound message, connection not open", zap.String("kind", kind))
		return ErrNotConnected
	}
	m.mu.Unlock()

	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	if err := t.WriteMessage(data); err != nil {
		// The read loop observes the closed transport and runs the close path.
		m.logger.Warn("failed to write message", zap.String("kind", kind), zap.Error(err))
		t.Close()
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// readLoop reads frames from one transport until it fails.
func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			t.Close()
			m.mu.Lock()
			if gen == m.generation {
				m.logger.Info("connection closed", zap.Error(err))
			}
			m.handleCloseLocked(gen)
			m.mu.Unlock()
			return
		}
		m.dispatch(gen, data)
	}
}

func (m *Manager) dispatch(gen uint64, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		m.mu.Lock()
		m.stats.DecodeFailures++
		m.mu.Unlock()
		metrics.DecodeFailures.Inc()
		m.logger.Warn("dropping undecodable event",
			zap.Error(err),
			zap.String("payload", truncate(data, maxLoggedPayload)))
		return
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	current := gen == m.generation
	if current {
		m.stats.EventsReceived++
	}
	m.mu.Unlock()
	if !current {
		return
	}

	metrics.InboundEvents.WithLabelValues(string(ev.Type)).Inc()
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}

// handleCloseLocked moves to disconnected and schedules the next attempt.
// Calls from a superseded transport are ignored.
func (m *Manager) handleCloseLocked(gen uint64) {
	if gen != m.generation {
		return
	}
	m.transport = nil
	m.setStatusLocked(StatusDisconnected)

	if m.maxAttempts > 0 && m.attempt >= m.maxAttempts {
		m.logger.Warn("reconnect: max attempts reached, giving up", zap.Int("max_attempts", m.maxAttempts))
		return
	}

	delay := m.backoff.Delay(m.attempt)
	m.attempt++
	m.stats.ReconnectsScheduled++
	metrics.ReconnectsScheduled.Inc()
	metrics.ReconnectDelay.Observe(delay.Seconds())
	m.logger.Info("scheduling reconnect", zap.Int("attempt", m.attempt), zap.Duration("delay", delay))

	m.retry = m.scheduler.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.status != StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()

	m.Connect(context.Background())
}

func (m *Manager) cancelRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// setStatusLocked changes the status and notifies listeners.
func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	metrics.ConnectionStatus.Set(s.gauge())
	select {
	case m.stateChan <- s:
	default:
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
