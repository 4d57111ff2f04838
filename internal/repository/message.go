package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chatbridge/session-server-go/internal/database"
	"github.com/chatbridge/session-server-go/internal/model"
)

type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByChatID(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	// Create inserts the message keyed by its externally assigned id. Redelivery
	// of an id already stored is a no-op; the bool result reports whether a row
	// was actually created.
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error
	// MarkReadByChat flips the operator-read flags on every unread inbound
	// message of the chat.
	MarkReadByChat(ctx context.Context, chatID string, readAt time.Time) (int64, error)
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db database.DBTX) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByChatID(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE chat_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	return msgs, err
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(id, chat_id, account_id, remote_identity, sender_identity, from_me,
			 content_type, content, media_url, filename, mime_type, size, status,
			 quoted_message_id, quoted_content, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
		RETURNING *
	`, params.ID, params.ChatID, params.AccountID, params.RemoteIdentity,
		params.SenderIdentity, params.FromMe, params.ContentType, params.Content,
		params.MediaURL, params.Filename, params.MimeType, params.Size, params.Status,
		params.QuotedMessageID, params.QuotedContent, params.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the id was seen before, fetch the existing row.
		existing, ferr := r.FindByID(ctx, params.ID)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &msg, true, nil
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *messageRepo) MarkReadByChat(ctx context.Context, chatID string, readAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			is_read_by_operator = TRUE,
			read_at = $2,
			status = 'read'
		WHERE chat_id = $1 AND NOT from_me AND NOT is_read_by_operator
	`, chatID, readAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
