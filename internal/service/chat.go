// Package service hosts business operations that span multiple repositories.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/database"
	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
)

type ChatService struct {
	db       *database.DB
	chatRepo repository.ChatRepository
	msgRepo  repository.MessageRepository
}

func NewChatService(db *database.DB, chatRepo repository.ChatRepository, msgRepo repository.MessageRepository) *ChatService {
	return &ChatService{db: db, chatRepo: chatRepo, msgRepo: msgRepo}
}

func (s *ChatService) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, apperrors.NotFound("chat")
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, accountID string, limit, offset int) ([]model.Chat, error) {
	return s.chatRepo.FindByAccountID(ctx, accountID, limit, offset)
}

func (s *ChatService) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.msgRepo.FindByChatID(ctx, chatID, limit, offset)
}

// MarkRead flips every unread inbound message of the chat and zeroes its
// unread counter in one transaction, so the counter can never drift from the
// per-message flags. Returns the number of messages affected.
func (s *ChatService) MarkRead(ctx context.Context, chatID string) (int64, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	var updated int64
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		msgRepo := repository.NewMessageRepository(tx)
		chatRepo := repository.NewChatRepository(tx)

		n, err := msgRepo.MarkReadByChat(ctx, chat.ID, time.Now())
		if err != nil {
			return err
		}
		if err := chatRepo.ResetUnread(ctx, chat.ID); err != nil {
			return err
		}
		updated = n
		return nil
	})
	if err != nil {
		return 0, apperrors.Persistence("mark chat read", err)
	}

	log.Debug().
		Str("chatId", chat.ID).
		Int64("updated", updated).
		Msg("chat marked read")
	return updated, nil
}
