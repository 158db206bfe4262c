// Package message implements the conversation-scoped send/acknowledge
// channel: each outbound message gets a client-generated idempotency key,
// the server's ack is correlated back by that key, and the caller receives
// the ordering metadata (sequence number, server timestamp) the server
// assigned at durable acceptance.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxisworks/praxis-realtime/internal/clock"
	"github.com/praxisworks/praxis-realtime/internal/connection"
	"github.com/praxisworks/praxis-realtime/internal/frame"
	"github.com/praxisworks/praxis-realtime/internal/model"
)

// Errors
var (
	ErrEmptyConversation = errors.New("conversation id is empty")
	ErrEmptyContent      = errors.New("message content is empty")
	ErrAckTimeout        = errors.New("acknowledgment timeout")
	ErrConnectionClosed  = errors.New("connection closed while awaiting acknowledgment")
	ErrBadAck            = errors.New("malformed acknowledgment")
)

// DefaultAckTimeout bounds the wait for a message.ack.
const DefaultAckTimeout = 10 * time.Second

// Sender is the slice of the Connection Manager the channel needs.
type Sender interface {
	Send(f frame.Frame) error
	State() connection.State
}

// Pending is the caller's handle to one in-flight send. ClientID is
// available immediately so the UI layer can surface the message
// optimistically; Ack blocks until the server acknowledges, the operation
// times out, or the connection drops. A failed Ack means the caller must
// retract its optimistic entry.
type Pending struct {
	ClientID       string
	ConversationID string
	Content        string
	SentAt         time.Time

	timer clock.Timer
	done  chan struct{}
	ack   model.Acknowledgment
	err   error
}

// Ack waits for the acknowledgment. It resolves exactly once; later calls
// return the same result.
func (p *Pending) Ack(ctx context.Context) (model.Acknowledgment, error) {
	select {
	case <-p.done:
		return p.ack, p.err
	case <-ctx.Done():
		return model.Acknowledgment{}, ctx.Err()
	}
}

// Channel correlates sends with acknowledgments. The pending map supports
// any number of simultaneous in-flight sends, keyed by idempotency key.
type Channel struct {
	conn    Sender
	logger  *slog.Logger
	clk     clock.Clock
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*Pending
	lastSeq map[string]int64 // conversation id → last observed seq
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock substitutes the timer source, for tests.
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) { ch.clk = c }
}

// WithAckTimeout overrides the acknowledgment timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(ch *Channel) { ch.timeout = d }
}

// NewChannel creates a message channel riding the given connection. The
// channel registers itself for message.ack frames and for lifecycle
// transitions when wired through Attach.
func NewChannel(conn Sender, logger *slog.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	ch := &Channel{
		conn:    conn,
		logger:  logger,
		clk:     clock.New(),
		timeout: DefaultAckTimeout,
		pending: make(map[string]*Pending),
		lastSeq: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Attach registers the channel with its Connection Manager for ack frames
// and lifecycle transitions.
func (c *Channel) Attach(m *connection.Manager) {
	m.Handle(frame.TypeMessageAck, c)
	m.Observe(c)
}

// Send validates and transmits one message. Validation failures and
// unauthenticated sends reject synchronously and never reach the wire. On
// success the returned Pending carries the fresh idempotency key.
func (c *Channel) Send(conversationID, content string) (*Pending, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversation
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	if c.conn.State() != connection.StateAuthenticated {
		return nil, connection.ErrNotAuthenticated
	}

	p := &Pending{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		SentAt:         c.clk.Now(),
		done:           make(chan struct{}),
	}

	// The timer must be armed in the same critical section that publishes
	// the entry: once the map holds p, a disconnect may tear it down from
	// another goroutine.
	clientID := p.ClientID
	c.mu.Lock()
	c.pending[clientID] = p
	p.timer = c.clk.AfterFunc(c.timeout, func() {
		c.reject(clientID, ErrAckTimeout)
	})
	c.mu.Unlock()

	err := c.conn.Send(&frame.MessageSend{
		ConversationID: conversationID,
		ClientID:       clientID,
		Content:        content,
	})
	if err != nil {
		c.mu.Lock()
		if entry, ok := c.pending[clientID]; ok {
			delete(c.pending, clientID)
			entry.timer.Stop()
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("send message: %w", err)
	}

	return p, nil
}

// HandleFrame consumes message.ack frames. An ack whose key matches no
// pending entry (a duplicate, or one arriving after timeout) is a silent
// no-op.
func (c *Channel) HandleFrame(f frame.Frame) {
	ackFrame, ok := f.(*frame.MessageAck)
	if !ok {
		return
	}

	ack, err := ackFrame.Acknowledgment()
	if err != nil {
		c.logger.Warn("invalid acknowledgment", "client_id", ackFrame.ClientID, "error", err)
		c.reject(ackFrame.ClientID, fmt.Errorf("%w: %v", ErrBadAck, err))
		return
	}

	c.resolve(ack)
}

// ConnectionStateChanged rejects every pending send the moment the
// connection leaves Authenticated, rather than waiting out the timeout.
func (c *Channel) ConnectionStateChanged(old, new connection.State, reason error) {
	if old != connection.StateAuthenticated || new == connection.StateAuthenticated {
		return
	}

	err := ErrConnectionClosed
	if reason != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionClosed, reason)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*Pending)
	c.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.err = err
		close(p.done)
	}

	if len(pending) > 0 {
		c.logger.Warn("rejected in-flight sends on disconnect", "count", len(pending))
	}
}

// PendingCount returns the number of unresolved sends.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) resolve(ack model.Acknowledgment) {
	c.mu.Lock()
	p, ok := c.pending[ack.ClientID]
	if ok {
		delete(c.pending, ack.ClientID)
	}
	if ok {
		last, seen := c.lastSeq[p.ConversationID]
		if seen && ack.Seq <= last {
			c.logger.Warn("non-monotonic sequence number",
				"conversation", p.ConversationID,
				"last", last,
				"got", ack.Seq,
			)
		}
		c.lastSeq[p.ConversationID] = ack.Seq
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.ack = ack
	close(p.done)
}

func (c *Channel) reject(clientID string, err error) {
	c.mu.Lock()
	p, ok := c.pending[clientID]
	if ok {
		delete(c.pending, clientID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.err = err
	close(p.done)
}
