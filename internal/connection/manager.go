package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/praxisworks/praxis-realtime/internal/clock"
	"github.com/praxisworks/praxis-realtime/internal/frame"
)

// FrameHandler receives frames dispatched by type on an authenticated
// connection. The message channel registers for acks, the notification
// stream for events.
type FrameHandler interface {
	HandleFrame(f frame.Frame)
}

// Observer is notified of every state transition. A nil reason marks a
// caller-initiated close; a non-nil reason marks an abnormal one, which is
// what the reconnection controller keys off.
type Observer interface {
	ConnectionStateChanged(old, new State, reason error)
}

// Manager owns one persistent connection and drives the handshake state
// machine. All fields are private; independent instances never collide.
type Manager struct {
	cfg          ManagerConfig
	logger       *slog.Logger
	clk          clock.Clock
	newTransport func(TransportConfig, *slog.Logger) Transport

	mu        sync.Mutex
	state     State
	transport Transport
	authTimer clock.Timer
	stop      chan struct{}
	token     string

	regMu     sync.RWMutex
	handlers  map[frame.Type]FrameHandler
	observers []Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the timer source, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

// WithTransportFactory substitutes the transport constructor, for tests.
func WithTransportFactory(f func(TransportConfig, *slog.Logger) Transport) Option {
	return func(m *Manager) { m.newTransport = f }
}

// NewManager creates a Connection Manager in the Idle state.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}

	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		clk:          clock.New(),
		newTransport: NewTransport,
		token:        cfg.Token,
		handlers:     make(map[frame.Type]FrameHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle registers the handler for a frame type. Later registrations for
// the same type replace earlier ones.
func (m *Manager) Handle(t frame.Type, h FrameHandler) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.handlers[t] = h
}

// Observe registers a lifecycle observer.
func (m *Manager) Observe(o Observer) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.observers = append(m.observers, o)
}

// State returns the current handshake state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetToken replaces the session token used on the next Start. Called on
// session renewal.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Start opens the transport and begins the handshake. Valid from Idle,
// Closed, and AuthFailed (after a session renewal replaced the token). A
// dial failure leaves the manager Closed with the dial error as the
// abnormal-close reason.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateClosed, StateAuthFailed:
	default:
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	t := m.newTransport(TransportConfig{
		URL:          m.cfg.URL,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)
	m.transport = t
	stop := make(chan struct{})
	m.stop = stop
	token := m.token
	m.mu.Unlock()

	m.transition(nil, StateConnecting, nil)

	if err := t.Connect(ctx); err != nil {
		m.transition(nil, StateClosed, err)
		return fmt.Errorf("dial: %w", err)
	}

	m.transition(nil, StateAwaitingAuth, nil)

	data, err := frame.Encode(&frame.Auth{
		Token:           token,
		ProtocolVersion: frame.ProtocolVersion,
		ClientInfo:      m.cfg.ClientInfo,
	})
	if err != nil {
		t.Close()
		m.transition(nil, StateClosed, err)
		return fmt.Errorf("encode auth frame: %w", err)
	}
	if err := t.Send(data); err != nil {
		t.Close()
		m.transition(nil, StateClosed, err)
		return fmt.Errorf("send auth frame: %w", err)
	}

	m.mu.Lock()
	m.authTimer = m.clk.AfterFunc(m.cfg.AuthTimeout, m.onAuthTimeout)
	m.mu.Unlock()

	go m.readLoop(t, stop)

	return nil
}

// Stop closes the connection on the caller's behalf. The resulting Closed
// transition carries a nil reason, which suppresses reconnection.
func (m *Manager) Stop() {
	m.mu.Lock()
	t := m.transport
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	m.transition(func(s State) bool { return !s.Terminal() && s != StateIdle }, StateClosed, nil)
}

// Send encodes and transmits a frame. Only valid once authenticated.
func (m *Manager) Send(f frame.Frame) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	t := m.transport
	m.mu.Unlock()

	data, err := frame.Encode(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return t.Send(data)
}

// transition moves the state machine and notifies observers outside the
// lock. allowedFrom guards concurrent transitions (timeout vs auth.ok);
// nil means unconditional. Leaving AwaitingAuth disarms the auth timer.
func (m *Manager) transition(allowedFrom func(State) bool, to State, reason error) bool {
	m.mu.Lock()
	old := m.state
	if old == to || (allowedFrom != nil && !allowedFrom(old)) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	if m.authTimer != nil && to != StateAwaitingAuth {
		m.authTimer.Stop()
		m.authTimer = nil
	}
	m.mu.Unlock()

	m.logger.Debug("connection state changed",
		"from", old.String(),
		"to", to.String(),
		"reason", reason,
	)

	m.regMu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.regMu.RUnlock()

	for _, o := range observers {
		o.ConnectionStateChanged(old, to, reason)
	}
	return true
}

func (m *Manager) onAuthTimeout() {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if m.transition(func(s State) bool { return s == StateAwaitingAuth }, StateAuthFailed, ErrAuthTimeout) {
		m.logger.Warn("authentication timed out")
		if t != nil {
			t.Close()
		}
	}
}

// handleDisconnect records an abnormal close. Only non-terminal states
// transition; a connection already AuthFailed stays AuthFailed.
func (m *Manager) handleDisconnect(err error) {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if m.transition(func(s State) bool { return !s.Terminal() && s != StateIdle }, StateClosed, err) {
		if t != nil {
			t.Close()
		}
	}
}

// readLoop consumes transport messages until the connection ends.
func (m *Manager) readLoop(t Transport, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case err := <-t.Errors():
			m.handleDisconnect(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return

		case msg, ok := <-t.Messages():
			if !ok {
				m.handleDisconnect(ErrConnectionLost)
				return
			}

			f, err := frame.Decode(msg.Data)
			if err != nil {
				// Envelope-level garbage tears the connection down;
				// payload-level problems stay scoped to the one frame.
				if errors.Is(err, frame.ErrBadEnvelope) {
					m.logger.Warn("unparsable envelope, closing connection", "error", err)
					t.Close()
					m.handleDisconnect(err)
					return
				}
				m.logger.Warn("dropping undecodable frame", "error", err)
				continue
			}

			m.handleFrame(t, f)
		}
	}
}

// handleFrame routes one decoded frame according to the current state.
func (m *Manager) handleFrame(t Transport, f frame.Frame) {
	switch m.State() {
	case StateAwaitingAuth:
		switch f := f.(type) {
		case *frame.AuthOK:
			m.transition(func(s State) bool { return s == StateAwaitingAuth }, StateAuthenticated, nil)
		case *frame.AuthError:
			reason := fmt.Errorf("%w: %s", ErrAuthRejected, f.Message)
			if m.transition(func(s State) bool { return s == StateAwaitingAuth }, StateAuthFailed, reason) {
				t.Close()
			}
		default:
			m.logger.Warn("dropping frame received before auth completed",
				"type", string(f.FrameType()),
			)
		}

	case StateAuthenticated:
		if errFrame, ok := f.(*frame.Error); ok {
			m.logger.Warn("server error frame", "message", errFrame.Message)
			return
		}

		m.regMu.RLock()
		h := m.handlers[f.FrameType()]
		m.regMu.RUnlock()

		if h == nil {
			m.logger.Debug("no handler for frame", "type", string(f.FrameType()))
			return
		}
		h.HandleFrame(f)
	}
}
