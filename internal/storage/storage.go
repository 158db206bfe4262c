// Package storage is the persistence boundary behind the relay server. It
// assigns per-conversation sequence numbers at durable acceptance, keeps the
// tenant notification feed, and serves the cursor-paginated catch-up queries.
//
// Two implementations ship: Memory for tests and single-node deployments, and
// Postgres on pgx for everything else.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist for the
	// tenant.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidCursor is returned when a pagination cursor cannot be
	// decoded.
	ErrInvalidCursor = errors.New("storage: invalid cursor")
)

const (
	// DefaultPageSize is applied when ListNotifications is called with a
	// non-positive limit.
	DefaultPageSize = 20

	// MaxPageSize caps the limit a caller may request.
	MaxPageSize = 100
)

// Store is the persistence interface the relay server depends on.
type Store interface {
	// AppendMessage durably accepts a message, assigning ID, Seq, and
	// CreatedAt in place. Re-sending the same (tenant, conversation,
	// client_id) returns the originally accepted message unchanged with
	// created false.
	AppendMessage(ctx context.Context, msg *model.Message) (created bool, err error)

	// InsertNotification stores an event on the tenant's feed, assigning
	// ID and CreatedAt in place when unset.
	InsertNotification(ctx context.Context, tenantID string, event *model.NotificationEvent) error

	// ListNotifications returns one newest-first page of the tenant's feed
	// for a category. An empty cursor means the first page.
	ListNotifications(ctx context.Context, tenantID string, category model.Category, cursor string, limit int) (*model.NotificationPage, error)

	// UnreadCounts returns the number of unread notifications per category.
	// Categories with no unread items are omitted.
	UnreadCounts(ctx context.Context, tenantID string) (map[model.Category]int, error)

	// MarkNotificationRead stamps a notification read. Marking an already
	// read notification is a no-op.
	MarkNotificationRead(ctx context.Context, tenantID, id string) error

	// Close releases the store's resources.
	Close()
}

// clampLimit normalizes a requested page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// encodeCursor packs a page boundary into an opaque token. The boundary is
// the (created_at, id) of the last item on the page.
func encodeCursor(ts time.Time, id string) string {
	raw := strconv.FormatInt(ts.UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return time.Unix(0, n).UTC(), id, nil
}

// validateMessage checks the caller-supplied fields of a message before
// acceptance.
func validateMessage(msg *model.Message) error {
	if msg == nil {
		return errors.New("storage: nil message")
	}
	if msg.TenantID == "" {
		return errors.New("storage: message missing tenant id")
	}
	if msg.ConversationID == "" {
		return errors.New("storage: message missing conversation id")
	}
	if msg.SenderID == "" {
		return errors.New("storage: message missing sender id")
	}
	if msg.ClientID == "" {
		return errors.New("storage: message missing client id")
	}
	if msg.Content == "" {
		return errors.New("storage: message missing content")
	}
	return nil
}

func validateEvent(tenantID string, event *model.NotificationEvent) error {
	if tenantID == "" {
		return errors.New("storage: empty tenant id")
	}
	if event == nil {
		return errors.New("storage: nil event")
	}
	if !event.Category.Valid() {
		return fmt.Errorf("storage: invalid category %q", event.Category)
	}
	if event.Title == "" {
		return errors.New("storage: event missing title")
	}
	return nil
}
