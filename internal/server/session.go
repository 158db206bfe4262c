package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/praxisworks/praxis-realtime/internal/auth"
	"github.com/praxisworks/praxis-realtime/internal/frame"
	"github.com/praxisworks/praxis-realtime/internal/model"
	"github.com/praxisworks/praxis-realtime/internal/storage"
)

// SessionConfig holds the per-connection timing and buffering knobs.
type SessionConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

const maxFrameSize = 64 * 1024

// Session is one websocket connection from handshake to close. The first
// frame must be auth; everything else before a successful handshake is
// answered with auth.error and the connection is closed.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	verifier *auth.Verifier
	store    storage.Store
	cfg      SessionConfig
	logger   *slog.Logger

	// principal is set once the handshake succeeds.
	principal *auth.Session

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(hub *Hub, conn *websocket.Conn, verifier *auth.Verifier, store storage.Store, cfg SessionConfig, logger *slog.Logger) *Session {
	return &Session{
		hub:      hub,
		conn:     conn,
		verifier: verifier,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

// Run drives the session to completion: handshake, registration, then the
// read loop. Blocks until the connection closes.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	if err := s.handshake(); err != nil {
		s.logger.Info("handshake rejected", "error", err)
		s.writeFrame(&frame.AuthError{Message: authErrorMessage(err)})
		return
	}

	if err := s.writeFrame(&frame.AuthOK{}); err != nil {
		s.logger.Warn("writing auth.ok", "error", err)
		return
	}

	s.logger = s.logger.With("tenant_id", s.principal.TenantID, "user_id", s.principal.UserID)
	s.logger.Info("session authenticated")

	s.hub.register(s)
	defer s.hub.unregister(s)

	go s.writePump()
	s.readLoop(ctx)
}

// handshake reads and validates the mandatory first auth frame.
func (s *Session) handshake() error {
	s.conn.SetReadLimit(maxFrameSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return err
	}

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}

	f, err := frame.Decode(data)
	if err != nil {
		return err
	}

	authFrame, ok := f.(*frame.Auth)
	if !ok {
		return errAuthRequired
	}
	if authFrame.ProtocolVersion != frame.ProtocolVersion {
		return errBadProtocol
	}

	principal, err := s.verifier.Verify(authFrame.Token)
	if err != nil {
		return err
	}
	s.principal = principal
	return nil
}

var (
	errAuthRequired = errors.New("authentication required before any other frame")
	errBadProtocol  = errors.New("unsupported protocol version")
)

// authErrorMessage maps a handshake failure to the message put on the wire.
// Token verification details stay server-side.
func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, errAuthRequired):
		return "authentication required"
	case errors.Is(err, errBadProtocol):
		return "unsupported protocol version"
	case errors.Is(err, auth.ErrExpiredToken):
		return "session expired"
	default:
		return "authentication failed"
	}
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("connection lost", "error", err)
			}
			return
		}

		f, err := frame.Decode(data)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", "error", err)
			s.enqueue(&frame.Error{Message: "malformed frame"})
			continue
		}

		switch f := f.(type) {
		case *frame.MessageSend:
			s.handleSend(ctx, f)
		case *frame.Auth:
			// Re-auth on a live session is not part of the protocol.
			s.logger.Debug("dropping auth frame on authenticated session")
		default:
			s.logger.Debug("dropping unexpected frame", "type", f.FrameType())
			s.enqueue(&frame.Error{Message: "unexpected frame type"})
		}
	}
}

// handleSend durably accepts a message, replies with its ack, and publishes
// the derived notification to the tenant.
func (s *Session) handleSend(ctx context.Context, f *frame.MessageSend) {
	if f.ConversationID == "" || f.ClientID == "" || f.Content == "" {
		s.enqueue(&frame.Error{Message: "message.send requires conversation_id, client_id, content"})
		return
	}

	msg := &model.Message{
		TenantID:       s.principal.TenantID,
		ConversationID: f.ConversationID,
		SenderID:       s.principal.UserID,
		ClientID:       f.ClientID,
		Content:        f.Content,
	}
	created, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		s.logger.Error("accepting message", "error", err, "conversation_id", f.ConversationID)
		s.enqueue(&frame.Error{Message: "message not accepted"})
		return
	}

	s.enqueue(&frame.MessageAck{
		MessageID: msg.ID,
		Seq:       float64(msg.Seq),
		ServerTS:  msg.CreatedAt.Format(time.RFC3339Nano),
		ClientID:  msg.ClientID,
	})

	// A resend of an already accepted message repeats the ack only; the
	// notification went out on first acceptance.
	if !created {
		return
	}

	event := model.NotificationEvent{
		Category:   model.CategoryMessage,
		Title:      "New message",
		Body:       msg.Content,
		EntityType: model.EntityTypeConversation,
		EntityID:   msg.ConversationID,
		Metadata:   map[string]string{"sender_id": msg.SenderID, "message_id": msg.ID},
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.store.InsertNotification(ctx, msg.TenantID, &event); err != nil {
		s.logger.Error("recording notification", "error", err, "message_id", msg.ID)
		return
	}
	s.hub.Publish(msg.TenantID, frame.FromEvent(event))
}

// enqueue hands a frame to the write pump. A full queue means this session
// cannot keep up with its own replies, so it is closed.
func (s *Session) enqueue(f frame.Frame) {
	data, err := frame.Encode(f)
	if err != nil {
		s.logger.Error("encoding frame", "error", err, "type", f.FrameType())
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("outbound queue full, closing session")
		s.close()
	}
}

// writeFrame writes directly on the connection. Only safe before the write
// pump starts.
func (s *Session) writeFrame(f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump is the single writer after authentication. It drains the send
// queue and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}
