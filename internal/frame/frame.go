// Package frame implements the wire codec for the realtime protocol.
//
// Every frame is a JSON envelope {type, data}. The frame-type set is closed:
// decoding dispatches through a single exhaustive switch, so adding a frame
// type is a compile-time-visible change here rather than ad hoc narrowing at
// call sites.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

// ProtocolVersion is the current wire protocol version, negotiated in the
// auth frame.
const ProtocolVersion = 1

// Errors
var (
	ErrBadEnvelope = errors.New("malformed frame envelope")
	ErrUnknownType = errors.New("unknown frame type")
	ErrBadPayload  = errors.New("invalid frame payload")
)

// Type discriminates the frame envelope.
type Type string

const (
	TypeAuth         Type = "auth"
	TypeAuthOK       Type = "auth.ok"
	TypeAuthError    Type = "auth.error"
	TypeMessageSend  Type = "message.send"
	TypeMessageAck   Type = "message.ack"
	TypeNotification Type = "notification.new"
	TypeError        Type = "error"
)

// Frame is one decoded protocol frame. The concrete type is always one of
// the structs below; Decode never returns anything outside the closed set.
type Frame interface {
	FrameType() Type
}

// Auth opens the connection-scoped handshake (client to server).
type Auth struct {
	Token           string            `json:"token"`
	ProtocolVersion int               `json:"protocol_version"`
	ClientInfo      map[string]string `json:"client_info"`
}

// AuthOK confirms the handshake (server to client). No payload.
type AuthOK struct{}

// AuthError rejects the handshake or a pre-auth frame (server to client).
type AuthError struct {
	Message string `json:"message"`
}

// MessageSend carries one outbound chat message (client to server).
type MessageSend struct {
	ConversationID string `json:"conversation_id"`
	ClientID       string `json:"client_id"`
	Content        string `json:"content"`
}

// MessageAck acknowledges a send (server to client). Seq is decoded as a
// float so Validate can distinguish a missing or non-finite number from a
// legitimate zero before conversion.
type MessageAck struct {
	MessageID string  `json:"message_id"`
	Seq       float64 `json:"seq"`
	ServerTS  string  `json:"server_ts"`
	ClientID  string  `json:"client_id"`
}

// Notification pushes one category-tagged event (server to client).
type Notification struct {
	ID         string            `json:"id"`
	Category   model.Category    `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Link       string            `json:"link,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Error reports a server-side failure outside any pending operation.
type Error struct {
	Message string `json:"message"`
}

func (*Auth) FrameType() Type         { return TypeAuth }
func (*AuthOK) FrameType() Type       { return TypeAuthOK }
func (*AuthError) FrameType() Type    { return TypeAuthError }
func (*MessageSend) FrameType() Type  { return TypeMessageSend }
func (*MessageAck) FrameType() Type   { return TypeMessageAck }
func (*Notification) FrameType() Type { return TypeNotification }
func (*Error) FrameType() Type        { return TypeError }

// Validate checks the required ack fields: non-empty message id and server
// timestamp, finite sequence number. A failed check is a protocol error for
// the pending send it correlates to, not for the connection.
func (a *MessageAck) Validate() error {
	if a.MessageID == "" {
		return fmt.Errorf("%w: empty message_id", ErrBadPayload)
	}
	if a.ServerTS == "" {
		return fmt.Errorf("%w: empty server_ts", ErrBadPayload)
	}
	if math.IsNaN(a.Seq) || math.IsInf(a.Seq, 0) {
		return fmt.Errorf("%w: seq is not finite", ErrBadPayload)
	}
	return nil
}

// Acknowledgment converts a validated ack into its domain form.
func (a *MessageAck) Acknowledgment() (model.Acknowledgment, error) {
	if err := a.Validate(); err != nil {
		return model.Acknowledgment{}, err
	}
	ts, err := time.Parse(time.RFC3339, a.ServerTS)
	if err != nil {
		return model.Acknowledgment{}, fmt.Errorf("%w: bad server_ts: %v", ErrBadPayload, err)
	}
	return model.Acknowledgment{
		MessageID: a.MessageID,
		Seq:       int64(a.Seq),
		ServerTS:  ts,
		ClientID:  a.ClientID,
	}, nil
}

// Event converts a notification frame into its domain form.
func (n *Notification) Event() model.NotificationEvent {
	return model.NotificationEvent{
		ID:         n.ID,
		Category:   n.Category,
		Title:      n.Title,
		Body:       n.Body,
		Link:       n.Link,
		EntityType: n.EntityType,
		EntityID:   n.EntityID,
		Metadata:   n.Metadata,
		CreatedAt:  n.CreatedAt,
	}
}

// FromEvent builds the frame for a domain event.
func FromEvent(ev model.NotificationEvent) *Notification {
	return &Notification{
		ID:         ev.ID,
		Category:   ev.Category,
		Title:      ev.Title,
		Body:       ev.Body,
		Link:       ev.Link,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Metadata:   ev.Metadata,
		CreatedAt:  ev.CreatedAt,
	}
}

// envelope is the raw wire shape.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals a frame into its wire envelope.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame payload: %w", err)
	}
	return json.Marshal(envelope{Type: f.FrameType(), Data: data})
}

// Decode parses a wire envelope into its concrete frame. Envelope-level
// failures return ErrBadEnvelope; a recognized type with an unparsable
// payload returns ErrBadPayload; a type outside the closed set returns
// ErrUnknownType.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}

	var f Frame
	switch env.Type {
	case TypeAuth:
		f = &Auth{}
	case TypeAuthOK:
		f = &AuthOK{}
	case TypeAuthError:
		f = &AuthError{}
	case TypeMessageSend:
		f = &MessageSend{}
	case TypeMessageAck:
		f = &MessageAck{}
	case TypeNotification:
		f = &Notification{}
	case TypeError:
		f = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, f); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadPayload, env.Type, err)
		}
	}
	return f, nil
}
