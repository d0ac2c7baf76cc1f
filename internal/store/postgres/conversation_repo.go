package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"matchtalk/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const uniqueViolation = "23505"

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO conversations (user_low_id, user_high_id, match_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, c.UserLowID, c.UserHighID, c.MatchID).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, user_low_id, user_high_id, match_id, last_message_at,
		       low_archived, high_archived, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id))
}

func (r *ConversationRepo) GetByPair(ctx context.Context, userLowID, userHighID int64) (*domain.Conversation, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, user_low_id, user_high_id, match_id, last_message_at,
		       low_archived, high_archived, created_at, updated_at
		FROM conversations WHERE user_low_id = $1 AND user_high_id = $2
	`, userLowID, userHighID))
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64, offset, limit int) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_low_id, user_high_id, match_id, last_message_at,
		       low_archived, high_archived, created_at, updated_at
		FROM conversations
		WHERE (user_low_id = $1 AND NOT low_archived)
		   OR (user_high_id = $1 AND NOT high_archived)
		ORDER BY last_message_at DESC NULLS LAST, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(
			&c.ID, &c.UserLowID, &c.UserHighID, &c.MatchID, &c.LastMessageAt,
			&c.LowArchived, &c.HighArchived, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			low_archived  = CASE WHEN user_low_id  = $2 THEN $3 ELSE low_archived  END,
			high_archived = CASE WHEN user_high_id = $2 THEN $3 ELSE high_archived END,
			updated_at = NOW()
		WHERE id = $1 AND (user_low_id = $2 OR user_high_id = $2)
	`, conversationID, userID, archived)
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id != $2 AND is_read = FALSE
	`, conversationID, userID).Scan(&count)
	return count, err
}

func (r *ConversationRepo) scanOne(row *sql.Row) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID, &c.UserLowID, &c.UserHighID, &c.MatchID, &c.LastMessageAt,
		&c.LowArchived, &c.HighArchived, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}
