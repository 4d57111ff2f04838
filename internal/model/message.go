package model

import (
	"time"
)

type Message struct {
	ID               string        `db:"id" json:"id"`
	ChatID           string        `db:"chat_id" json:"chatId"`
	AccountID        string        `db:"account_id" json:"accountId"`
	RemoteIdentity   string        `db:"remote_identity" json:"remoteIdentity"`
	SenderIdentity   *string       `db:"sender_identity" json:"senderIdentity,omitempty"`
	FromMe           bool          `db:"from_me" json:"fromMe"`
	ContentType      ContentType   `db:"content_type" json:"contentType"`
	Content          string        `db:"content" json:"content"`
	MediaURL         *string       `db:"media_url" json:"mediaUrl,omitempty"`
	Filename         *string       `db:"filename" json:"filename,omitempty"`
	MimeType         *string       `db:"mime_type" json:"mimeType,omitempty"`
	Size             *int64        `db:"size" json:"size,omitempty"`
	Status           MessageStatus `db:"status" json:"status"`
	QuotedMessageID  *string       `db:"quoted_message_id" json:"quotedMessageId,omitempty"`
	QuotedContent    *string       `db:"quoted_content" json:"quotedContent,omitempty"`
	IsReadByOperator bool          `db:"is_read_by_operator" json:"isReadByOperator"`
	ReadAt           *time.Time    `db:"read_at" json:"readAt,omitempty"`
	Timestamp        time.Time     `db:"timestamp" json:"timestamp"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
}

type CreateMessageParams struct {
	ID              string
	ChatID          string
	AccountID       string
	RemoteIdentity  string
	SenderIdentity  *string
	FromMe          bool
	ContentType     ContentType
	Content         string
	MediaURL        *string
	Filename        *string
	MimeType        *string
	Size            *int64
	Status          MessageStatus
	QuotedMessageID *string
	QuotedContent   *string
	Timestamp       time.Time
}
