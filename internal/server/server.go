package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/praxisworks/praxis-realtime/internal/auth"
	"github.com/praxisworks/praxis-realtime/internal/config"
	"github.com/praxisworks/praxis-realtime/internal/frame"
	"github.com/praxisworks/praxis-realtime/internal/model"
	"github.com/praxisworks/praxis-realtime/internal/storage"
)

const sessionContextKey = "praxis.session"

// Server wires the websocket endpoint and the REST catch-up API onto one
// echo instance.
type Server struct {
	cfg      *config.RelayConfig
	echo     *echo.Echo
	hub      *Hub
	store    storage.Store
	verifier *auth.Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New builds the server. The caller owns store and verifier lifetimes.
func New(cfg *config.RelayConfig, store storage.Store, verifier *auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:      cfg,
		echo:     e,
		hub:      NewHub(logger),
		store:    store,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/ws", s.handleWS)

	api := e.Group("/api", s.requireSession)
	api.GET("/notifications", s.handleListNotifications)
	api.GET("/notifications/unread-counts", s.handleUnreadCounts)
	api.POST("/notifications", s.handlePublishNotification)
	api.POST("/notifications/:id/read", s.handleMarkRead)

	return s
}

// Hub exposes the broadcast hub, mainly for the publisher endpoint's tests
// and for out-of-band publishing by the embedding daemon.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler, used by tests with httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins serving on the configured listen address. Blocks until
// Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("relay listening", "addr", s.cfg.Server.ListenAddr)
	err := s.echo.Start(s.cfg.Server.ListenAddr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every live session and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) sessionConfig() SessionConfig {
	return SessionConfig{
		HandshakeTimeout: s.cfg.Auth.HandshakeTimeout,
		PingInterval:     s.cfg.Server.PingInterval,
		PongTimeout:      s.cfg.Server.PongTimeout,
		WriteTimeout:     s.cfg.Server.WriteTimeout,
		SendBuffer:       s.cfg.Hub.SessionBuffer,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleWS upgrades the connection and runs the session to completion.
// Authentication happens in-protocol via the first frame, not at upgrade
// time.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Info("upgrade failed", "error", err, "remote", c.RealIP())
		return nil
	}

	sess := newSession(s.hub, conn, s.verifier, s.store, s.sessionConfig(), s.logger)
	sess.Run(c.Request().Context())
	return nil
}

// requireSession authenticates REST calls with the same bearer token the
// websocket handshake uses.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		principal, err := s.verifier.Verify(header[len(prefix):])
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(sessionContextKey, principal)
		return next(c)
	}
}

func principalFrom(c echo.Context) *auth.Session {
	return c.Get(sessionContextKey).(*auth.Session)
}

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

func toAPINotification(item model.NotificationItem) apiNotification {
	return apiNotification{
		ID:         item.ID,
		Category:   item.Category,
		Title:      item.Title,
		Body:       item.Body,
		Link:       item.Link,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Metadata:   item.Metadata,
		CreatedAt:  item.CreatedAt,
		ReadAt:     item.ReadAt,
	}
}

func (s *Server) handleListNotifications(c echo.Context) error {
	principal := principalFrom(c)

	category := model.Category(c.QueryParam("category"))
	if !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	page, err := s.store.ListNotifications(c.Request().Context(), principal.TenantID, category, c.QueryParam("cursor"), limit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
		}
		s.logger.Error("listing notifications", "error", err, "tenant_id", principal.TenantID)
		return echo.NewHTTPError(http.StatusInternalServerError, "listing notifications failed")
	}

	items := make([]apiNotification, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, toAPINotification(item))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": items,
		"has_more":      page.HasMore,
		"next_cursor":   page.NextCursor,
	})
}

func (s *Server) handleUnreadCounts(c echo.Context) error {
	principal := principalFrom(c)

	counts, err := s.store.UnreadCounts(c.Request().Context(), principal.TenantID)
	if err != nil {
		s.logger.Error("reading unread counts", "error", err, "tenant_id", principal.TenantID)
		return echo.NewHTTPError(http.StatusInternalServerError, "unread counts failed")
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]any{
		"counts": counts,
		"total":  total,
	})
}

// publishRequest is the body of the internal publisher endpoint used by the
// rest of the product to push notifications through the relay.
type publishRequest struct {
	Category   model.Category    `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Link       string            `json:"link"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata"`
}

func (s *Server) handlePublishNotification(c echo.Context) error {
	principal := principalFrom(c)

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if !req.Category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	event := model.NotificationEvent{
		Category:   req.Category,
		Title:      req.Title,
		Body:       req.Body,
		Link:       req.Link,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Metadata:   req.Metadata,
	}
	if err := s.store.InsertNotification(c.Request().Context(), principal.TenantID, &event); err != nil {
		s.logger.Error("inserting notification", "error", err, "tenant_id", principal.TenantID)
		return echo.NewHTTPError(http.StatusInternalServerError, "publish failed")
	}

	s.hub.Publish(principal.TenantID, frame.FromEvent(event))

	return c.JSON(http.StatusCreated, map[string]any{
		"id":         event.ID,
		"created_at": event.CreatedAt,
	})
}

func (s *Server) handleMarkRead(c echo.Context) error {
	principal := principalFrom(c)

	err := s.store.MarkNotificationRead(c.Request().Context(), principal.TenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		}
		s.logger.Error("marking notification read", "error", err, "tenant_id", principal.TenantID)
		return echo.NewHTTPError(http.StatusInternalServerError, "mark read failed")
	}
	return c.NoContent(http.StatusNoContent)
}
