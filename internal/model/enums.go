package model

type AccountStatus string

const (
	AccountStatusDisconnected AccountStatus = "disconnected"
	AccountStatusPending      AccountStatus = "pending"
	AccountStatusConnected    AccountStatus = "connected"
	AccountStatusLoggedOut    AccountStatus = "logged_out"
)

// IsTerminal reports whether the account can never reconnect without re-pairing.
func (s AccountStatus) IsTerminal() bool {
	return s == AccountStatusLoggedOut
}

type ContentType string

const (
	ContentTypeText         ContentType = "text"
	ContentTypeImage        ContentType = "image"
	ContentTypeVideo        ContentType = "video"
	ContentTypeDocument     ContentType = "document"
	ContentTypeAudio        ContentType = "audio"
	ContentTypeSticker      ContentType = "sticker"
	ContentTypeLocation     ContentType = "location"
	ContentTypeLiveLocation ContentType = "live_location"
	ContentTypeContact      ContentType = "contact"
	ContentTypeContactList  ContentType = "contact_list"
	ContentTypeReaction     ContentType = "reaction"
	ContentTypeProtocol     ContentType = "protocol"
	ContentTypeCall         ContentType = "call"
	ContentTypeUnrecognized ContentType = "unrecognized"
)

// IsMedia reports whether the content type carries a downloadable media body.
func (c ContentType) IsMedia() bool {
	switch c {
	case ContentTypeImage, ContentTypeVideo, ContentTypeDocument, ContentTypeAudio, ContentTypeSticker:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)
