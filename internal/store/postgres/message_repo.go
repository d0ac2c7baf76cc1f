package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"matchtalk/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, attachment_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		RETURNING id, created_at
	`, m.ConversationID, m.SenderID, m.Content, m.MessageType, m.AttachmentURL,
	).Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2, updated_at = NOW() WHERE id = $1
	`, m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("bump last_message_at: %w", err)
	}

	return tx.Commit()
}

func (r *MessageRepo) ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.Message, error) {
	// Keyset pagination on the id order key: stable and duplicate-free even
	// while new messages keep arriving at the head.
	query := `
		SELECT id, conversation_id, sender_id, content, message_type, attachment_url, is_read, read_at, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2 <= 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, conversationID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, message_type, attachment_url, is_read, read_at, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY id DESC LIMIT 1
	`, conversationID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MessageType,
		&m.AttachmentURL, &m.IsRead, &m.ReadAt, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) MarkAllRead(ctx context.Context, conversationID, readerID int64, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND sender_id != $2 AND is_read = FALSE
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MessageType,
			&m.AttachmentURL, &m.IsRead, &m.ReadAt, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
