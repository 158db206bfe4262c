package server

import (
	"log/slog"
	"sync"

	"github.com/praxisworks/praxis-realtime/internal/frame"
)

// Hub is the registry of authenticated sessions, keyed by tenant. Publish
// fans one frame out to every session of a tenant without blocking the
// publisher; a session whose outbound queue is full is dropped from the
// broadcast set and closed.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	tenants map[string]map[*Session]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		tenants: make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tenant := s.principal.TenantID
	if h.tenants[tenant] == nil {
		h.tenants[tenant] = make(map[*Session]struct{})
	}
	h.tenants[tenant][s] = struct{}{}

	h.logger.Debug("session registered",
		"tenant_id", tenant,
		"user_id", s.principal.UserID,
		"sessions", len(h.tenants[tenant]),
	)
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) {
	tenant := s.principal.TenantID
	sessions, ok := h.tenants[tenant]
	if !ok {
		return
	}
	if _, ok := sessions[s]; !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(h.tenants, tenant)
	}
}

// Publish encodes f once and enqueues it on every session subscribed to the
// tenant. Never blocks: sessions that cannot keep up are dropped.
func (h *Hub) Publish(tenantID string, f frame.Frame) {
	data, err := frame.Encode(f)
	if err != nil {
		h.logger.Error("encoding broadcast frame", "error", err, "type", f.FrameType())
		return
	}

	var slow []*Session

	h.mu.Lock()
	for s := range h.tenants[tenantID] {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
			h.removeLocked(s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		h.logger.Warn("dropping slow consumer",
			"tenant_id", tenantID,
			"user_id", s.principal.UserID,
		)
		s.close()
	}
}

// SessionCount returns the number of live sessions for a tenant.
func (h *Hub) SessionCount(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tenants[tenantID])
}

// CloseAll closes every registered session. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Session
	for _, sessions := range h.tenants {
		for s := range sessions {
			all = append(all, s)
		}
	}
	h.tenants = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}
