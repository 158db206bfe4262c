package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	// seq holds the last assigned sequence number per (tenant, conversation).
	seq map[string]int64

	// messages indexes accepted messages by (tenant, conversation, client_id)
	// so re-sends resolve to the original acceptance.
	messages map[string]*model.Message

	// notifications holds each tenant's feed in insertion order.
	notifications map[string][]*model.NotificationItem

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		seq:           make(map[string]int64),
		messages:      make(map[string]*model.Message),
		notifications: make(map[string][]*model.NotificationItem),
		now:           time.Now,
	}
}

func convKey(tenantID, conversationID string) string {
	return tenantID + "\x00" + conversationID
}

func clientKey(tenantID, conversationID, clientID string) string {
	return tenantID + "\x00" + conversationID + "\x00" + clientID
}

// AppendMessage implements Store.
func (m *Memory) AppendMessage(_ context.Context, msg *model.Message) (bool, error) {
	if err := validateMessage(msg); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := clientKey(msg.TenantID, msg.ConversationID, msg.ClientID)
	if existing, ok := m.messages[key]; ok {
		msg.ID = existing.ID
		msg.Seq = existing.Seq
		msg.CreatedAt = existing.CreatedAt
		return false, nil
	}

	ck := convKey(msg.TenantID, msg.ConversationID)
	m.seq[ck]++
	msg.Seq = m.seq[ck]
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.now().UTC()

	stored := *msg
	m.messages[key] = &stored
	return true, nil
}

// InsertNotification implements Store.
func (m *Memory) InsertNotification(_ context.Context, tenantID string, event *model.NotificationEvent) error {
	if err := validateEvent(tenantID, event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now().UTC()
	}

	item := &model.NotificationItem{NotificationEvent: *event}
	m.notifications[tenantID] = append(m.notifications[tenantID], item)
	return nil
}

// ListNotifications implements Store.
func (m *Memory) ListNotifications(_ context.Context, tenantID string, category model.Category, cursor string, limit int) (*model.NotificationPage, error) {
	if !category.Valid() {
		return nil, ErrNotFound
	}
	limit = clampLimit(limit)

	var afterTS time.Time
	var afterID string
	if cursor != "" {
		var err error
		afterTS, afterID, err = decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*model.NotificationItem, 0)
	for _, item := range m.notifications[tenantID] {
		if item.Category == category {
			matched = append(matched, item)
		}
	}
	// Newest first; ties broken by id so pagination is stable.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := &model.NotificationPage{Items: make([]model.NotificationItem, 0, limit)}
	for _, item := range matched {
		if cursor != "" {
			// Skip everything at or before the cursor boundary.
			if item.CreatedAt.After(afterTS) {
				continue
			}
			if item.CreatedAt.Equal(afterTS) && item.ID >= afterID {
				continue
			}
		}
		if len(page.Items) == limit {
			page.HasMore = true
			last := page.Items[len(page.Items)-1]
			page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, *item)
	}
	return page, nil
}

// UnreadCounts implements Store.
func (m *Memory) UnreadCounts(_ context.Context, tenantID string) (map[model.Category]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.Category]int)
	for _, item := range m.notifications[tenantID] {
		if item.Unread() {
			counts[item.Category]++
		}
	}
	return counts, nil
}

// MarkNotificationRead implements Store.
func (m *Memory) MarkNotificationRead(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.notifications[tenantID] {
		if item.ID == id {
			if item.ReadAt == nil {
				ts := m.now().UTC()
				item.ReadAt = &ts
			}
			return nil
		}
	}
	return ErrNotFound
}

// Close implements Store.
func (m *Memory) Close() {}
