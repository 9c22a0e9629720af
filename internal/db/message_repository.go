package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tOgg1/linksync/internal/models"
)

// ErrMessageAlreadyExists is returned when a message id is reused.
var ErrMessageAlreadyExists = fmt.Errorf("message %w", models.ErrAlreadyExists)

// MessageRepository handles message persistence. Rows are append-only.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, owner_identity, content, type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		msg.ID,
		models.NormalizeIdentity(msg.OwnerIdentity),
		msg.Content,
		string(msg.Type),
		msg.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMessageAlreadyExists
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// List returns one page of an identity's messages, newest first.
func (r *MessageRepository) List(ctx context.Context, identity string, offset, limit int) ([]models.Message, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []models.Message{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_identity, content, type, created_at
		FROM messages
		WHERE owner_identity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, models.NormalizeIdentity(identity), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return scanMessages(rows)
}

// ListSince returns messages newer than the message sinceID, oldest first, so
// a reconnecting stream can replay them in arrival order. An unknown sinceID
// yields no rows.
func (r *MessageRepository) ListSince(ctx context.Context, identity, sinceID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.owner_identity, m.content, m.type, m.created_at
		FROM messages m
		JOIN messages since ON since.id = ? AND since.owner_identity = m.owner_identity
		WHERE m.owner_identity = ?
			AND (m.created_at > since.created_at
				OR (m.created_at = since.created_at AND m.id > since.id))
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT ?
	`, sinceID, models.NormalizeIdentity(identity), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return scanMessages(rows)
}

// Count returns the number of messages owned by identity.
func (r *MessageRepository) Count(ctx context.Context, identity string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE owner_identity = ?`,
		models.NormalizeIdentity(identity)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			msg       models.Message
			msgType   string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.OwnerIdentity, &msg.Content, &msgType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Type = models.MessageType(msgType)
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}
