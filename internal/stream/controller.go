// Package stream implements the notification stream and its reconnection
// controller. The controller supervises the Connection Manager: it relays
// category-tagged events into the reconciliation store, schedules the fixed
// reconnect delay on abnormal closes, and suppresses reconnection entirely
// after a terminal authentication failure until the host signals a session
// renewal.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/clock"
	"github.com/praxisworks/praxis-realtime/internal/connection"
	"github.com/praxisworks/praxis-realtime/internal/frame"
	"github.com/praxisworks/praxis-realtime/internal/model"
	"github.com/praxisworks/praxis-realtime/internal/store"
)

// DefaultReconnectDelay is the fixed wait before a reconnect attempt. No
// exponential backoff and no jitter: the relay enforces connection limits
// upstream, so a bounded cadence is sufficient.
const DefaultReconnectDelay = 5 * time.Second

// Status is the stream's user-visible connection indicator. A disconnect
// surfaces as a status change, never as an interrupting error.
type Status int

const (
	StatusIdle Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Connection is the slice of the Connection Manager the controller
// supervises.
type Connection interface {
	Start(ctx context.Context) error
	Stop()
	State() connection.State
	Handle(t frame.Type, h connection.FrameHandler)
	Observe(o connection.Observer)
	SetToken(token string)
}

// Notifier surfaces best-effort desktop notifications. Failures are
// swallowed; delivery is never load-bearing.
type Notifier interface {
	Notify(title, body string) error
}

// Controller drives the notification stream lifecycle.
type Controller struct {
	conn     Connection
	store    *store.Store
	notifier Notifier
	logger   *slog.Logger
	clk      clock.Clock
	delay    time.Duration

	mu          sync.Mutex
	ctx         context.Context
	active      bool
	authFailed  bool
	reconnect   clock.Timer
	status      Status
	lastEventAt time.Time
	routeLoad   model.Category // route-driven load to re-issue after renewal
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock substitutes the timer source, for tests.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clk = c }
}

// WithReconnectDelay overrides the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(ctrl *Controller) { ctrl.delay = d }
}

// WithNotifier enables desktop notifications for message and system
// events.
func WithNotifier(n Notifier) Option {
	return func(ctrl *Controller) { ctrl.notifier = n }
}

// NewController wires a controller to its connection and store. The
// controller registers itself for notification frames and lifecycle
// transitions immediately; nothing runs until Start.
func NewController(conn Connection, st *store.Store, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		conn:   conn,
		store:  st,
		logger: logger,
		clk:    clock.New(),
		delay:  DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	conn.Handle(frame.TypeNotification, c)
	conn.Observe(c)
	return c
}

// Start activates the stream. Starting an already-active stream is a
// no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.conn.Start(ctx); err != nil {
		// The connection's own Closed transition schedules the retry;
		// calling scheduleReconnect here as well is deduplicated by the
		// single-timer guard.
		c.scheduleReconnect()
		return err
	}
	return nil
}

// Stop tears the stream down: the reconnect timer is cleared and the
// transport closed exactly once. A caller-initiated stop never schedules a
// reconnect.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.status = StatusIdle
	c.mu.Unlock()

	c.conn.Stop()
}

// Status returns the stream indicator and the timestamp of the last
// received event.
func (c *Controller) Status() (Status, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastEventAt
}

// SetRouteCategory records the category the host's current route displays.
// It is loaded eagerly while connected and re-issued after a session
// renewal.
func (c *Controller) SetRouteCategory(category model.Category) {
	c.mu.Lock()
	c.routeLoad = category
	active := c.active
	ctx := c.runCtx()
	c.mu.Unlock()

	if active && c.conn.State() == connection.StateAuthenticated {
		go func() {
			if err := c.store.Refresh(ctx, category); err != nil {
				c.logger.Warn("route category load failed", "category", string(category), "error", err)
			}
		}()
	}
}

// SessionRenewed resumes a stream halted by a terminal auth failure: the
// token is replaced, the store restarts from zero, and the pending
// route-driven load is re-issued once the connection authenticates.
func (c *Controller) SessionRenewed(token string) {
	c.mu.Lock()
	c.authFailed = false
	// A retry armed by an earlier drop would race the restart below and
	// then fire against an already-started connection.
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	active := c.active
	ctx := c.runCtx()
	c.mu.Unlock()

	c.conn.SetToken(token)
	c.store.Reset()

	if !active {
		return
	}
	if err := c.conn.Start(ctx); err != nil && !errors.Is(err, connection.ErrAlreadyStarted) {
		c.logger.Warn("restart after session renewal failed", "error", err)
		c.scheduleReconnect()
	}
}

// SessionCleared resets all local state and tears the stream down.
func (c *Controller) SessionCleared() {
	c.store.Reset()
	c.Stop()
}

// ConnectionStateChanged implements connection.Observer.
func (c *Controller) ConnectionStateChanged(old, new connection.State, reason error) {
	switch new {
	case connection.StateAuthenticated:
		c.mu.Lock()
		c.status = StatusConnected
		c.authFailed = false
		ctx := c.runCtx()
		c.mu.Unlock()
		go c.rearmCatchup(ctx)

	case connection.StateAuthFailed:
		c.mu.Lock()
		c.authFailed = true
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.logger.Warn("authentication failed, stream halted until session renewal", "reason", reason)

	case connection.StateClosed:
		c.mu.Lock()
		active := c.active
		if c.status == StatusConnected {
			c.status = StatusDisconnected
		}
		c.mu.Unlock()

		// A nil reason is a caller-initiated stop; only transport drops
		// reconnect.
		if reason == nil || !active {
			return
		}
		c.scheduleReconnect()
	}
}

// HandleFrame implements connection.FrameHandler for notification.new.
// The event is a signal, not a snapshot: the affected category is
// refetched from the catch-up endpoint rather than trusted as complete.
func (c *Controller) HandleFrame(f frame.Frame) {
	n, ok := f.(*frame.Notification)
	if !ok {
		return
	}
	if !n.Category.Valid() {
		c.logger.Warn("dropping event with unknown category", "category", string(n.Category))
		return
	}

	c.mu.Lock()
	c.status = StatusConnected
	c.lastEventAt = n.CreatedAt
	ctx := c.runCtx()
	notifier := c.notifier
	c.mu.Unlock()

	c.logger.Debug("notification event", "category", string(n.Category), "id", n.ID)

	go func() {
		if err := c.store.Refresh(ctx, n.Category); err != nil {
			c.logger.Warn("category refetch failed", "category", string(n.Category), "error", err)
		}
		if err := c.store.RefreshUnreadCounts(ctx); err != nil {
			c.logger.Warn("unread counts refresh failed", "error", err)
		}
	}()

	if notifier != nil && (n.Category == model.CategoryMessage || n.Category == model.CategorySystem) {
		go func() {
			if err := notifier.Notify(n.Title, n.Body); err != nil {
				c.logger.Debug("desktop notification failed", "error", err)
			}
		}()
	}
}

// scheduleReconnect arms the fixed-delay retry. At most one timer is ever
// pending; a terminal auth failure or an inactive stream suppresses it.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || c.authFailed || c.reconnect != nil {
		return
	}
	c.logger.Info("scheduling reconnect", "delay", c.delay)
	c.reconnect = c.clk.AfterFunc(c.delay, c.attemptReconnect)
}

func (c *Controller) attemptReconnect() {
	c.mu.Lock()
	c.reconnect = nil
	if !c.active || c.authFailed {
		c.mu.Unlock()
		return
	}
	ctx := c.runCtx()
	c.mu.Unlock()

	c.logger.Info("attempting reconnect")
	// A live connection means somebody else already restarted the stream;
	// rescheduling here would retry forever against it.
	if err := c.conn.Start(ctx); err != nil && !errors.Is(err, connection.ErrAlreadyStarted) {
		c.logger.Warn("reconnect failed", "error", err)
		c.scheduleReconnect()
	}
}

// rearmCatchup repairs state after (re)authentication: refresh aggregate
// unread counts, refetch every category whose cached pages may be stale,
// and honor the route-driven load.
func (c *Controller) rearmCatchup(ctx context.Context) {
	if err := c.store.RefreshUnreadCounts(ctx); err != nil {
		c.logger.Warn("unread counts refresh failed", "error", err)
	}

	categories := c.store.LoadedCategories()

	c.mu.Lock()
	route := c.routeLoad
	c.mu.Unlock()

	if route != "" {
		found := false
		for _, cat := range categories {
			if cat == route {
				found = true
				break
			}
		}
		if !found {
			categories = append(categories, route)
		}
	}

	for _, cat := range categories {
		if err := c.store.Refresh(ctx, cat); err != nil {
			c.logger.Warn("catch-up refresh failed", "category", string(cat), "error", err)
		}
	}
}

// runCtx returns the lifecycle context. Callers hold c.mu.
func (c *Controller) runCtx() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}
