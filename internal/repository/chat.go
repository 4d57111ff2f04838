package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatbridge/session-server-go/internal/database"
	"github.com/chatbridge/session-server-go/internal/model"
)

type ChatRepository interface {
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.Chat, error)
	// Resolve finds-or-creates the chat row for the (organization, account,
	// remote identity) triple. Idempotent: concurrent callers converge on one
	// row. Activity columns stay untouched so a resolved chat for a message
	// that turns out to be a duplicate costs nothing.
	Resolve(ctx context.Context, params model.ResolveChatParams) (*model.Chat, error)
	// Touch bumps the chat's activity columns for one newly stored message.
	// The unread counter moves for inbound traffic only.
	Touch(ctx context.Context, chatID string, lastMessageAt time.Time, incrementUnread bool) error
	ResetUnread(ctx context.Context, chatID string) error
}

type chatRepo struct {
	db database.DBTX
}

func NewChatRepository(db database.DBTX) ChatRepository {
	return &chatRepo{db: db}
}

func (r *chatRepo) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT * FROM chats WHERE id = $1`, id)
	return HandleNotFound(&chat, err)
}

func (r *chatRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.SelectContext(ctx, &chats, `
		SELECT * FROM chats
		WHERE account_id = $1
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return chats, err
}

func (r *chatRepo) Resolve(ctx context.Context, params model.ResolveChatParams) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `
		INSERT INTO chats
			(id, organization_id, account_id, remote_identity, display_name, is_group,
			 unread_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (organization_id, account_id, remote_identity) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, chats.display_name)
		RETURNING *
	`, uuid.NewString(), params.OrganizationID, params.AccountID, params.RemoteIdentity,
		params.DisplayName, params.IsGroup)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) Touch(ctx context.Context, chatID string, lastMessageAt time.Time, incrementUnread bool) error {
	unreadDelta := 0
	if incrementUnread {
		unreadDelta = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET
			unread_count = unread_count + $2,
			last_message_at = GREATEST(COALESCE(last_message_at, $3), $3)
		WHERE id = $1
	`, chatID, unreadDelta, lastMessageAt)
	return err
}

func (r *chatRepo) ResetUnread(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET unread_count = 0 WHERE id = $1`, chatID)
	return err
}
