// Package store implements the local reconciliation store: per-category
// cached pages of notification items, unread counters, and the derived
// per-conversation unread index. It is the single source of truth the UI
// layer reads; all mutation goes through the operations here.
package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/praxisworks/praxis-realtime/internal/clock"
	"github.com/praxisworks/praxis-realtime/internal/model"
)

// DefaultPageSize is the catch-up page size.
const DefaultPageSize = 20

// Fetcher is the catch-up data source the store repairs itself from.
type Fetcher interface {
	ListNotifications(ctx context.Context, category model.Category, cursor string, limit int) (*model.NotificationPage, error)
	UnreadCounts(ctx context.Context) (map[model.Category]int, error)
}

// CategoryState is the cached state for one notification category. Item
// order is arrival/fetch order, not necessarily chronological.
type CategoryState struct {
	Items   []model.NotificationItem
	Loading bool
	LastErr error
	Cursor  string
	HasMore bool
	Loaded  bool // at least one successful page fetch since the last reset
}

// Store owns the category caches. Safe for concurrent use; the stream
// controller and the UI layer share one instance.
type Store struct {
	fetcher  Fetcher
	logger   *slog.Logger
	clk      clock.Clock
	pageSize int

	mu         sync.Mutex
	categories map[model.Category]*CategoryState
	unread     map[model.Category]int
	convUnread map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize overrides the catch-up page size.
func WithPageSize(n int) Option {
	return func(s *Store) { s.pageSize = n }
}

// WithClock substitutes the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// NewStore creates an empty store.
func NewStore(fetcher Fetcher, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		fetcher:  fetcher,
		logger:   logger,
		clk:      clock.New(),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

// Refresh fetches the first page for a category and replaces the cached
// items wholesale.
func (s *Store) Refresh(ctx context.Context, category model.Category) error {
	return s.loadPage(ctx, category, "")
}

// LoadMore fetches the next page using the stored cursor and appends the
// results, deduplicating by id and preserving first-seen order. Without a
// cursor it behaves like Refresh.
func (s *Store) LoadMore(ctx context.Context, category model.Category) error {
	s.mu.Lock()
	cursor := s.category(category).Cursor
	s.mu.Unlock()
	return s.loadPage(ctx, category, cursor)
}

func (s *Store) loadPage(ctx context.Context, category model.Category, cursor string) error {
	s.mu.Lock()
	cs := s.category(category)
	if cs.Loading {
		s.mu.Unlock()
		return nil
	}
	cs.Loading = true
	s.mu.Unlock()

	page, err := s.fetcher.ListNotifications(ctx, category, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	cs.Loading = false
	if err != nil {
		cs.LastErr = err
		s.logger.Warn("category page fetch failed", "category", string(category), "error", err)
		return err
	}
	cs.LastErr = nil
	cs.Loaded = true
	cs.Cursor = page.NextCursor
	cs.HasMore = page.HasMore

	if cursor == "" {
		cs.Items = append([]model.NotificationItem(nil), page.Items...)
	} else {
		cs.Items = mergeItems(cs.Items, page.Items)
	}

	if category == model.CategoryMessage {
		s.recomputeConversationIndexLocked()
	}
	return nil
}

// mergeItems appends incoming items not already present by id. First-seen
// order wins; an existing item is never duplicated or replaced.
func mergeItems(existing, incoming []model.NotificationItem) []model.NotificationItem {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item.ID] = struct{}{}
	}
	for _, item := range incoming {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		existing = append(existing, item)
	}
	return existing
}

// RefreshUnreadCounts replaces the per-category counters with the server's
// aggregate view.
func (s *Store) RefreshUnreadCounts(ctx context.Context) error {
	counts, err := s.fetcher.UnreadCounts(ctx)
	if err != nil {
		s.logger.Warn("unread counts fetch failed", "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range model.Categories {
		s.unread[c] = counts[c]
	}
	return nil
}

// MarkRead sets one item's read timestamp and decrements the category
// counter. Marking an already-read item is a no-op.
func (s *Store) MarkRead(category model.Category, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.category(category)
	for i := range cs.Items {
		if cs.Items[i].ID != id {
			continue
		}
		if cs.Items[i].ReadAt != nil {
			return
		}
		now := s.clk.Now()
		cs.Items[i].ReadAt = &now
		if s.unread[category] > 0 {
			s.unread[category]--
		}
		if category == model.CategoryMessage {
			s.recomputeConversationIndexLocked()
		}
		return
	}
}

// MarkUnread clears one item's read timestamp and increments the category
// counter. Marking an already-unread item is a no-op.
func (s *Store) MarkUnread(category model.Category, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.category(category)
	for i := range cs.Items {
		if cs.Items[i].ID != id {
			continue
		}
		if cs.Items[i].ReadAt == nil {
			return
		}
		cs.Items[i].ReadAt = nil
		s.unread[category]++
		if category == model.CategoryMessage {
			s.recomputeConversationIndexLocked()
		}
		return
	}
}

// MarkAllRead stamps every unread item in the category with the current
// time, preserving original read timestamps on items already read, and
// zeroes the category counter.
func (s *Store) MarkAllRead(category model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.category(category)
	now := s.clk.Now()
	for i := range cs.Items {
		if cs.Items[i].ReadAt == nil {
			ts := now
			cs.Items[i].ReadAt = &ts
		}
	}
	s.unread[category] = 0
	if category == model.CategoryMessage {
		s.recomputeConversationIndexLocked()
	}
}

// Category returns a snapshot of one category's state.
func (s *Store) Category(category model.Category) CategoryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.category(category)
	snapshot := *cs
	snapshot.Items = append([]model.NotificationItem(nil), cs.Items...)
	return snapshot
}

// LoadedCategories lists categories that have fetched at least one page
// since the last reset. The stream controller re-arms these after a
// reconnect, since their cached pages may be stale.
func (s *Store) LoadedCategories() []model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded []model.Category
	for _, c := range model.Categories {
		if cs, ok := s.categories[c]; ok && cs.Loaded {
			loaded = append(loaded, c)
		}
	}
	return loaded
}

// UnreadCount returns the counter for one category.
func (s *Store) UnreadCount(category model.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[category]
}

// TotalUnread sums the counters across categories.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// ConversationUnread returns the derived unread count for one
// conversation.
func (s *Store) ConversationUnread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convUnread[conversationID]
}

// ConversationUnreadIndex returns a copy of the derived per-conversation
// unread map.
func (s *Store) ConversationUnreadIndex() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int, len(s.convUnread))
	for k, v := range s.convUnread {
		index[k] = v
	}
	return index
}

// Reset clears the store back to its initial empty state. Called on
// session cleared/renewed signals.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.categories = make(map[model.Category]*CategoryState)
	s.unread = make(map[model.Category]int)
	s.convUnread = make(map[string]int)
}

// category returns the state for a category, creating it on first touch.
// Callers hold s.mu.
func (s *Store) category(c model.Category) *CategoryState {
	cs, ok := s.categories[c]
	if !ok {
		cs = &CategoryState{}
		s.categories[c] = cs
	}
	return cs
}

// recomputeConversationIndexLocked rebuilds the derived index from the
// message-category items. The index is a pure function of that state and
// is never mutated directly. Callers hold s.mu.
func (s *Store) recomputeConversationIndexLocked() {
	index := make(map[string]int)
	cs := s.category(model.CategoryMessage)
	for _, item := range cs.Items {
		if !item.Unread() {
			continue
		}
		if convID := item.ConversationID(); convID != "" {
			index[convID]++
		}
	}
	s.convUnread = index
}
