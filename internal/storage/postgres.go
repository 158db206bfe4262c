package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps an existing pool. The caller owns pool construction (see
// the database package); Close releases it.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_seq (
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	last_seq        BIGINT NOT NULL,
	PRIMARY KEY (tenant_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	client_id       TEXT NOT NULL,
	content         TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, conversation_id, client_id),
	UNIQUE (tenant_id, conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	category    TEXT NOT NULL,
	title       TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	read_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_notifications_feed
	ON notifications (tenant_id, category, created_at DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_notifications_unread
	ON notifications (tenant_id, category) WHERE read_at IS NULL;
`

// Bootstrap creates the schema if it does not exist.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	p.logger.Info("database schema ready")
	return nil
}

// AppendMessage implements Store. The per-conversation sequence is advanced
// with an upsert on the counter row inside the same transaction as the
// message insert, so a committed message always owns its seq.
func (p *Postgres) AppendMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if err := validateMessage(msg); err != nil {
		return false, err
	}

	// Re-sent client_id resolves to the original acceptance.
	if found, err := p.lookupByClientID(ctx, msg); err != nil {
		return false, err
	} else if found {
		return false, nil
	}

	err := p.appendNew(ctx, msg)
	if err == nil {
		return true, nil
	}

	// A concurrent send with the same client_id can win the insert race.
	// The unique violation means the message now exists, so read it back.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if found, lerr := p.lookupByClientID(ctx, msg); lerr == nil && found {
			return false, nil
		}
	}
	return false, err
}

func (p *Postgres) lookupByClientID(ctx context.Context, msg *model.Message) (bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, seq, created_at FROM messages
		 WHERE tenant_id = $1 AND conversation_id = $2 AND client_id = $3`,
		msg.TenantID, msg.ConversationID, msg.ClientID)

	var id string
	var seq int64
	var createdAt time.Time
	switch err := row.Scan(&id, &seq, &createdAt); {
	case err == nil:
		msg.ID = id
		msg.Seq = seq
		msg.CreatedAt = createdAt.UTC()
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("looking up message: %w", err)
	}
}

func (p *Postgres) appendNew(ctx context.Context, msg *model.Message) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO conversation_seq (tenant_id, conversation_id, last_seq)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (tenant_id, conversation_id)
		 DO UPDATE SET last_seq = conversation_seq.last_seq + 1
		 RETURNING last_seq`,
		msg.TenantID, msg.ConversationID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("advancing sequence: %w", err)
	}

	id := uuid.NewString()
	createdAt := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, tenant_id, conversation_id, sender_id, client_id, content, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, msg.TenantID, msg.ConversationID, msg.SenderID, msg.ClientID, msg.Content, seq, createdAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.ID = id
	msg.Seq = seq
	msg.CreatedAt = createdAt
	return nil
}

// InsertNotification implements Store.
func (p *Postgres) InsertNotification(ctx context.Context, tenantID string, event *model.NotificationEvent) error {
	if err := validateEvent(tenantID, event); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO notifications (id, tenant_id, category, title, body, link, entity_type, entity_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, tenantID, string(event.Category), event.Title, event.Body,
		event.Link, event.EntityType, event.EntityID, event.Metadata, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications implements Store.
func (p *Postgres) ListNotifications(ctx context.Context, tenantID string, category model.Category, cursor string, limit int) (*model.NotificationPage, error) {
	if !category.Valid() {
		return nil, ErrNotFound
	}
	limit = clampLimit(limit)

	query := `SELECT id, category, title, body, link, entity_type, entity_id, metadata, created_at, read_at
		FROM notifications
		WHERE tenant_id = $1 AND category = $2`
	args := []any{tenantID, string(category)}

	if cursor != "" {
		afterTS, afterID, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, afterTS, afterID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	page := &model.NotificationPage{Items: make([]model.NotificationItem, 0, limit)}
	for rows.Next() {
		var item model.NotificationItem
		var category string
		var createdAt time.Time
		var readAt *time.Time
		if err := rows.Scan(&item.ID, &category, &item.Title, &item.Body, &item.Link,
			&item.EntityType, &item.EntityID, &item.Metadata, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		item.Category = model.Category(category)
		item.CreatedAt = createdAt.UTC()
		if readAt != nil {
			ts := readAt.UTC()
			item.ReadAt = &ts
		}
		if len(page.Items) == limit {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notifications: %w", err)
	}
	if page.HasMore {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// UnreadCounts implements Store.
func (p *Postgres) UnreadCounts(ctx context.Context, tenantID string) (map[model.Category]int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM notifications
		 WHERE tenant_id = $1 AND read_at IS NULL
		 GROUP BY category`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Category]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[model.Category(category)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading unread counts: %w", err)
	}
	return counts, nil
}

// MarkNotificationRead implements Store.
func (p *Postgres) MarkNotificationRead(ctx context.Context, tenantID, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE notifications SET read_at = NOW()
		 WHERE tenant_id = $1 AND id = $2 AND read_at IS NULL`,
		tenantID, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means either already read or missing.
	var exists bool
	err = p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE tenant_id = $1 AND id = $2)`,
		tenantID, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking notification: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() {
	p.pool.Close()
}
