// Package ingest normalizes raw inbound protocol events into canonical,
// deduplicated chat and message rows.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/engine"
	"github.com/chatbridge/session-server-go/internal/media"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
)

// Notifier fans message events out to UI subscribers.
type Notifier interface {
	Publish(ctx context.Context, accountID string, eventType string, data any) error
}

type Pipeline struct {
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	fetcher     *media.Fetcher
	notifier    Notifier
}

func NewPipeline(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	fetcher *media.Fetcher,
	notifier Notifier,
) *Pipeline {
	return &Pipeline{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		fetcher:     fetcher,
		notifier:    notifier,
	}
}

// ProcessBatch ingests one inbound batch. Only live notify batches are
// processed; historical backfill is skipped. A failing item is logged and
// never takes its siblings down with it.
func (p *Pipeline) ProcessBatch(ctx context.Context, account model.Account, dl media.Downloader, batch engine.MessageBatch) {
	if batch.Kind != engine.BatchNotify {
		log.Debug().
			Str("accountId", account.ID).
			Str("kind", string(batch.Kind)).
			Int("count", len(batch.Items)).
			Msg("skipping non-notify batch")
		return
	}

	for _, item := range batch.Items {
		if err := p.processOne(ctx, account, dl, item); err != nil {
			log.Error().
				Err(err).
				Str("accountId", account.ID).
				Str("messageId", item.MessageID).
				Msg("failed to ingest message")
		}
	}
}

func (p *Pipeline) processOne(ctx context.Context, account model.Account, dl media.Downloader, item engine.InboundEnvelope) error {
	classified, ok := Classify(item.Payload)
	if !ok {
		// No content payload at all.
		return nil
	}
	if item.FromMe && classified.Type == model.ContentTypeProtocol {
		// Outbound echo with nothing user-visible.
		return nil
	}

	remoteIdentity := ResolveIdentity(item.RemoteIdentity, item.AltIdentity)
	if remoteIdentity == "" {
		return nil
	}
	if IsBroadcastIdentity(remoteIdentity) {
		return nil
	}

	timestamp := item.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var mediaURL, filename, mimeType *string
	var size *int64
	if m := classified.Media; m != nil {
		// Media failure degrades to a text-only row, never an error.
		mediaURL = p.fetcher.Fetch(ctx, dl, m.Ref, m.Filename, m.MimeType)
		if m.Filename != "" {
			filename = &m.Filename
		}
		if m.MimeType != "" {
			mimeType = &m.MimeType
		}
		if m.Size > 0 {
			size = &m.Size
		}
	}

	var displayName *string
	if item.DisplayName != "" {
		displayName = &item.DisplayName
	}

	chat, err := p.chatRepo.Resolve(ctx, model.ResolveChatParams{
		OrganizationID: account.OrganizationID,
		AccountID:      account.ID,
		RemoteIdentity: remoteIdentity,
		DisplayName:    displayName,
		IsGroup:        item.IsGroup,
	})
	if err != nil {
		return err
	}

	messageID := item.MessageID
	if messageID == "" {
		messageID = model.NewTemporaryMessageID()
		log.Warn().
			Str("accountId", account.ID).
			Str("generatedId", messageID).
			Msg("inbound message without protocol id, deduplication weakened")
	}

	status := model.MessageStatusReceived
	if item.FromMe {
		status = model.MessageStatusSent
	}

	var senderIdentity *string
	if item.SenderIdentity != "" {
		sender := NormalizeIdentity(item.SenderIdentity)
		senderIdentity = &sender
	}

	var quotedID, quotedContent *string
	if item.Quoted != nil {
		if item.Quoted.MessageID != "" {
			quotedID = &item.Quoted.MessageID
		}
		if item.Quoted.Content != "" {
			quotedContent = &item.Quoted.Content
		}
	}

	msg, created, err := p.messageRepo.Create(ctx, model.CreateMessageParams{
		ID:              messageID,
		ChatID:          chat.ID,
		AccountID:       account.ID,
		RemoteIdentity:  remoteIdentity,
		SenderIdentity:  senderIdentity,
		FromMe:          item.FromMe,
		ContentType:     classified.Type,
		Content:         classified.Content,
		MediaURL:        mediaURL,
		Filename:        filename,
		MimeType:        mimeType,
		Size:            size,
		Status:          status,
		QuotedMessageID: quotedID,
		QuotedContent:   quotedContent,
		Timestamp:       timestamp,
	})
	if err != nil {
		return err
	}
	if !created {
		log.Debug().
			Str("accountId", account.ID).
			Str("messageId", messageID).
			Msg("duplicate message delivery ignored")
		return nil
	}

	// Activity bumps follow the dedup decision so a redelivered message
	// cannot inflate the unread counter or advance lastMessageAt.
	if err := p.chatRepo.Touch(ctx, chat.ID, timestamp, !item.FromMe); err != nil {
		// The row exists; a failed counter bump must not suppress the event.
		log.Error().
			Err(err).
			Str("chatId", chat.ID).
			Str("messageId", msg.ID).
			Msg("failed to bump chat activity")
	}

	if p.notifier != nil {
		if err := p.notifier.Publish(ctx, account.ID, "message", msg); err != nil {
			log.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish message event")
		}
	}

	log.Debug().
		Str("accountId", account.ID).
		Str("chatId", chat.ID).
		Str("messageId", msg.ID).
		Str("contentType", string(classified.Type)).
		Bool("fromMe", item.FromMe).
		Msg("message ingested")
	return nil
}
