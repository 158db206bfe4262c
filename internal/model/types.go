package model

import "time"

// Category classifies a notification event. The set is closed: routing,
// filtering, and unread accounting all switch over these values.
type Category string

const (
	CategoryMessage Category = "message"
	CategorySystem  Category = "system"
	CategoryPayment Category = "payment"
	CategoryIntake  Category = "intake"
	CategoryMatter  Category = "matter"
)

// Categories lists every valid category in a stable order.
var Categories = []Category{
	CategoryMessage,
	CategorySystem,
	CategoryPayment,
	CategoryIntake,
	CategoryMatter,
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryMessage, CategorySystem, CategoryPayment, CategoryIntake, CategoryMatter:
		return true
	}
	return false
}

// EntityTypeConversation marks an entity reference that resolves to a chat
// conversation. Message-category events carry it so the conversation unread
// index can be derived.
const EntityTypeConversation = "conversation"

// NotificationEvent is a single pushed or fetched notification. Immutable
// once received; read state is tracked separately on NotificationItem.
type NotificationEvent struct {
	ID         string            // Server-assigned identifier
	Category   Category          // One of the closed category set
	Title      string            // Display title
	Body       string            // Optional body text
	Link       string            // Optional deep link
	EntityType string            // Optional entity reference type (e.g. "conversation")
	EntityID   string            // Optional entity reference id
	Metadata   map[string]string // Free-form metadata
	CreatedAt  time.Time         // Server creation time
}

// ConversationID returns the conversation this event references, or ""
// when the event carries no conversation reference.
func (e NotificationEvent) ConversationID() string {
	if e.EntityType == EntityTypeConversation {
		return e.EntityID
	}
	return ""
}

// NotificationItem is the client-side materialization of an event plus its
// mutable read state. Created on first fetch or first stream event, mutated
// only through the reconciliation store's read/unread operations, never
// deleted client-side.
type NotificationItem struct {
	NotificationEvent

	// ReadAt is nil while the item is unread.
	ReadAt *time.Time
}

// Unread reports whether the item has no read timestamp.
func (i NotificationItem) Unread() bool {
	return i.ReadAt == nil
}

// NotificationPage is one cursor page of notification items.
type NotificationPage struct {
	Items      []NotificationItem
	HasMore    bool
	NextCursor string
}

// Message is a chat message as durably accepted by the server. Seq is
// assigned at acceptance and is strictly monotonic per conversation.
type Message struct {
	ID             string    // Server-assigned identifier
	TenantID       string    // Owning tenant
	ConversationID string    // Conversation the message belongs to
	SenderID       string    // Authenticated sender
	ClientID       string    // Client idempotency key, echoed in the ack
	Content        string    // Message body
	Seq            int64     // Per-conversation monotonic sequence number
	CreatedAt      time.Time // Server acceptance time
}

// Acknowledgment is the server's answer to a message send: the durable
// message identifier, the per-conversation sequence number assigned at
// acceptance, the server-authoritative timestamp, and the echoed
// idempotency key.
type Acknowledgment struct {
	MessageID string    // Server-assigned message identifier
	Seq       int64     // Per-conversation monotonic sequence number
	ServerTS  time.Time // Server-authoritative timestamp
	ClientID  string    // Echoed idempotency key
}
