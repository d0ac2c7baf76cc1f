package sqlite

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

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, attachment_url, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, FALSE, ?)
	`, m.ConversationID, m.SenderID, m.Content, m.MessageType, m.AttachmentURL, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?
	`, now, now, m.ConversationID); err != nil {
		return fmt.Errorf("bump last_message_at: %w", err)
	}

	return tx.Commit()
}

func (r *MessageRepo) ListBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, content, message_type, attachment_url, is_read, read_at, created_at
		FROM messages
		WHERE conversation_id = ? AND (? <= 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, beforeID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, message_type, attachment_url, is_read, read_at, created_at
		FROM messages WHERE conversation_id = ?
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
		UPDATE messages SET is_read = TRUE, read_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND is_read = FALSE
	`, readAt, conversationID, readerID)
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
