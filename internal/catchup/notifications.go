package catchup

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

// apiNotification is the wire shape of one notification item.
type apiNotification struct {
	ID         string            `json:"id"`
	Category   model.Category    `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Link       string            `json:"link,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
}

// notificationsResponse is the list endpoint's wire shape.
type notificationsResponse struct {
	Notifications []apiNotification `json:"notifications"`
	HasMore       bool              `json:"has_more"`
	NextCursor    string            `json:"next_cursor,omitempty"`
}

// unreadCountsResponse is the counts endpoint's wire shape.
type unreadCountsResponse struct {
	Counts map[model.Category]int `json:"counts"`
	Total  int                    `json:"total"`
}

func (n apiNotification) item() model.NotificationItem {
	return model.NotificationItem{
		NotificationEvent: model.NotificationEvent{
			ID:         n.ID,
			Category:   n.Category,
			Title:      n.Title,
			Body:       n.Body,
			Link:       n.Link,
			EntityType: n.EntityType,
			EntityID:   n.EntityID,
			Metadata:   n.Metadata,
			CreatedAt:  n.CreatedAt,
		},
		ReadAt: n.ReadAt,
	}
}

// ListNotifications fetches one cursor page of notifications for a
// category. An empty cursor fetches the first page.
func (c *Client) ListNotifications(ctx context.Context, category model.Category, cursor string, limit int) (*model.NotificationPage, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}

	query := url.Values{}
	query.Set("category", string(category))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp notificationsResponse
	if err := c.get(ctx, "/api/notifications", query, &resp); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	page := &model.NotificationPage{
		Items:      make([]model.NotificationItem, 0, len(resp.Notifications)),
		HasMore:    resp.HasMore,
		NextCursor: resp.NextCursor,
	}
	for _, n := range resp.Notifications {
		page.Items = append(page.Items, n.item())
	}
	return page, nil
}

// UnreadCounts fetches the per-category unread counters.
func (c *Client) UnreadCounts(ctx context.Context) (map[model.Category]int, error) {
	var resp unreadCountsResponse
	if err := c.get(ctx, "/api/notifications/unread-counts", nil, &resp); err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	if resp.Counts == nil {
		resp.Counts = make(map[model.Category]int)
	}
	return resp.Counts, nil
}

// MarkNotificationRead records a read receipt server-side. Local read state
// is tracked by the reconciliation store; this keeps the server's unread
// counters in step.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("empty notification id")
	}
	_, err := c.doWithRetry(ctx, "POST", "/api/notifications/"+url.PathEscape(id)+"/read", nil)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
