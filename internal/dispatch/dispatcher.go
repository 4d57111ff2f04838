// Package dispatch sends outbound messages through live protocol connections
// and mirrors them into local storage.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/engine"
	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/ingest"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
	"github.com/chatbridge/session-server-go/internal/session"
)

// SendParams is one outbound send request.
type SendParams struct {
	RemoteIdentity  string `json:"remoteIdentity"`
	Text            string `json:"text,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	Filename        string `json:"filename,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
	QuotedContent   string `json:"quotedContent,omitempty"`
}

type Dispatcher struct {
	registry    *session.Registry
	accountRepo repository.AccountRepository
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	notifier    ingest.Notifier
}

func NewDispatcher(
	registry *session.Registry,
	accountRepo repository.AccountRepository,
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	notifier ingest.Notifier,
) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		accountRepo: accountRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		notifier:    notifier,
	}
}

// Send submits the content over the wire and persists a mirrored outbound
// message. Once the wire accepts the send it is reported as success even if
// the local bookkeeping fails; the failure is logged with the wire id so the
// row can be backfilled.
func (d *Dispatcher) Send(ctx context.Context, accountID string, params SendParams) (*model.Message, error) {
	if params.RemoteIdentity == "" {
		return nil, apperrors.ValidationError("remoteIdentity is required")
	}
	if params.Text == "" && params.MediaURL == "" {
		return nil, apperrors.ValidationError("message content is required")
	}

	account, err := d.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Persistence("load account", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}

	client, ok := d.registry.Get(accountID)
	if !ok || client.AuthenticatedIdentity() == "" {
		return nil, apperrors.ChannelNotReady(accountID)
	}

	remoteIdentity := ingest.NormalizeIdentity(params.RemoteIdentity)

	content := engine.OutboundContent{
		Text:     params.Text,
		MediaURL: params.MediaURL,
		Filename: params.Filename,
		MimeType: params.MimeType,
	}
	if params.QuotedMessageID != "" {
		content.Quoted = &engine.QuotedRef{
			MessageID: params.QuotedMessageID,
			Content:   params.QuotedContent,
		}
	}

	receipt, err := client.Send(ctx, remoteIdentity, content)
	if err != nil {
		return nil, apperrors.Engine(err)
	}

	msg, err := d.persist(ctx, account, remoteIdentity, params, receipt)
	if err != nil {
		// The wire accepted the send; report success regardless.
		log.Error().
			Err(err).
			Str("accountId", accountID).
			Str("wireMessageId", receipt.MessageID).
			Msg("sent message could not be persisted")
		return &model.Message{
			ID:             receipt.MessageID,
			AccountID:      accountID,
			RemoteIdentity: remoteIdentity,
			FromMe:         true,
			ContentType:    classifyOutbound(params),
			Content:        params.Text,
			Status:         model.MessageStatusSent,
			Timestamp:      receiptTime(receipt),
		}, nil
	}

	if d.notifier != nil {
		if err := d.notifier.Publish(ctx, accountID, "message", msg); err != nil {
			log.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish message event")
		}
	}

	log.Info().
		Str("accountId", accountID).
		Str("messageId", msg.ID).
		Str("remoteIdentity", remoteIdentity).
		Msg("message sent")
	return msg, nil
}

func (d *Dispatcher) persist(ctx context.Context, account *model.Account, remoteIdentity string, params SendParams, receipt engine.SendReceipt) (*model.Message, error) {
	timestamp := receiptTime(receipt)

	chat, err := d.chatRepo.Resolve(ctx, model.ResolveChatParams{
		OrganizationID: account.OrganizationID,
		AccountID:      account.ID,
		RemoteIdentity: remoteIdentity,
		IsGroup:        strings.HasSuffix(remoteIdentity, "@g.us"),
	})
	if err != nil {
		return nil, err
	}

	messageID := receipt.MessageID
	if messageID == "" {
		messageID = model.NewTemporaryMessageID()
	}

	var mediaURL, filename, mimeType *string
	if params.MediaURL != "" {
		mediaURL = &params.MediaURL
	}
	if params.Filename != "" {
		filename = &params.Filename
	}
	if params.MimeType != "" {
		mimeType = &params.MimeType
	}

	var quotedID, quotedContent *string
	if params.QuotedMessageID != "" {
		quotedID = &params.QuotedMessageID
	}
	if params.QuotedContent != "" {
		quotedContent = &params.QuotedContent
	}

	msg, created, err := d.messageRepo.Create(ctx, model.CreateMessageParams{
		ID:              messageID,
		ChatID:          chat.ID,
		AccountID:       account.ID,
		RemoteIdentity:  remoteIdentity,
		FromMe:          true,
		ContentType:     classifyOutbound(params),
		Content:         params.Text,
		MediaURL:        mediaURL,
		Filename:        filename,
		MimeType:        mimeType,
		Status:          model.MessageStatusSent,
		QuotedMessageID: quotedID,
		QuotedContent:   quotedContent,
		Timestamp:       timestamp,
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := d.chatRepo.Touch(ctx, chat.ID, timestamp, false); err != nil {
			log.Warn().
				Err(err).
				Str("chatId", chat.ID).
				Str("messageId", msg.ID).
				Msg("failed to bump chat activity")
		}
	}
	return msg, nil
}

// classifyOutbound mirrors the inbound classification for the mirrored row:
// the mime prefix picks the media kind, anything else with media attached is a
// document, and plain content is text.
func classifyOutbound(params SendParams) model.ContentType {
	if params.MediaURL == "" {
		return model.ContentTypeText
	}
	switch {
	case strings.HasPrefix(params.MimeType, "image/"):
		return model.ContentTypeImage
	case strings.HasPrefix(params.MimeType, "video/"):
		return model.ContentTypeVideo
	case strings.HasPrefix(params.MimeType, "audio/"):
		return model.ContentTypeAudio
	default:
		return model.ContentTypeDocument
	}
}

func receiptTime(receipt engine.SendReceipt) time.Time {
	if !receipt.Timestamp.IsZero() {
		return receipt.Timestamp
	}
	return time.Now()
}
