package model

import (
	"time"
)

// Chat is the conversation thread between an account and one external
// counterparty. Rows are created lazily on first traffic and never deleted
// by this service.
type Chat struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organizationId"`
	AccountID      string     `db:"account_id" json:"accountId"`
	RemoteIdentity string     `db:"remote_identity" json:"remoteIdentity"`
	DisplayName    *string    `db:"display_name" json:"displayName,omitempty"`
	IsGroup        bool       `db:"is_group" json:"isGroup"`
	UnreadCount    int        `db:"unread_count" json:"unreadCount"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

type ResolveChatParams struct {
	OrganizationID string
	AccountID      string
	RemoteIdentity string
	DisplayName    *string
	IsGroup        bool
}
