package catchup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

func TestClient_ListNotifications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "payment" {
			t.Errorf("category = %q, want payment", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"notifications": [
				{"id":"n1","category":"payment","title":"Invoice paid","created_at":"2024-06-01T10:00:00Z"},
				{"id":"n2","category":"payment","title":"Invoice overdue","created_at":"2024-06-01T09:00:00Z","read_at":"2024-06-01T11:00:00Z"}
			],
			"has_more": true,
			"next_cursor": "cur-2"
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok-1")
	page, err := c.ListNotifications(context.Background(), model.CategoryPayment, "", 20)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}

	if len(page.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(page.Items))
	}
	if !page.HasMore || page.NextCursor != "cur-2" {
		t.Errorf("pagination = hasMore:%v cursor:%q", page.HasMore, page.NextCursor)
	}
	if !page.Items[0].Unread() {
		t.Error("n1 should be unread")
	}
	if page.Items[1].Unread() {
		t.Error("n2 should be read")
	}
}

func TestClient_ListNotifications_InvalidCategory(t *testing.T) {
	c := NewClient("http://relay.test", "tok")
	if _, err := c.ListNotifications(context.Background(), "billing", "", 0); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestClient_UnreadCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications/unread-counts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"counts":{"message":3,"system":1},"total":4}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok-1")
	counts, err := c.UnreadCounts(context.Background())
	if err != nil {
		t.Fatalf("UnreadCounts failed: %v", err)
	}
	if counts[model.CategoryMessage] != 3 {
		t.Errorf("message count = %d, want 3", counts[model.CategoryMessage])
	}
	if counts[model.CategorySystem] != 1 {
		t.Errorf("system count = %d, want 1", counts[model.CategorySystem])
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"counts":{},"total":0}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", WithRetries(3, time.Millisecond))
	if _, err := c.UnreadCounts(context.Background()); err != nil {
		t.Fatalf("UnreadCounts failed after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, "bad-token", WithRetries(3, time.Millisecond))
	_, err := c.UnreadCounts(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (no retry on 4xx)", got)
	}
}
