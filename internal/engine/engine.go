// Package engine defines the contract with the external protocol engine.
//
// The engine owns the wire protocol (handshake, encryption, multi-device
// pairing) and is a black box to this service. It emits connection-state
// events and inbound message batches through an EventSink, reads and writes
// session material through a CredentialSource, and can ask the service for a
// previously seen message by id.
package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Dialer builds live clients for accounts.
type Dialer interface {
	// Dial establishes a protocol session for the account. The engine drives
	// the sink from its own goroutine; events for one account arrive in order.
	Dial(ctx context.Context, account Account, creds CredentialSource, sink EventSink) (Client, error)
}

// Client is one live protocol connection.
type Client interface {
	// AuthenticatedIdentity returns the account's address on the external
	// network, or "" before login completes. A client with an empty identity
	// is paired at best, not ready.
	AuthenticatedIdentity() string

	// Send submits content to the counterparty and returns the wire receipt.
	Send(ctx context.Context, remoteIdentity string, content OutboundContent) (SendReceipt, error)

	// DownloadMedia fetches and decodes one media payload into memory.
	DownloadMedia(ctx context.Context, ref json.RawMessage) ([]byte, error)

	// Logout terminates the session on the remote side. Terminal.
	Logout(ctx context.Context) error

	// Close tears down the local connection without logging out.
	Close() error
}

// EventSink receives engine events. Implementations must not block for long;
// the engine serializes calls per account.
type EventSink interface {
	OnPairingCode(code string)
	OnConnecting()
	OnOpen(identity string)
	OnClose(reason CloseReason)
	OnMessageBatch(batch MessageBatch)

	// LookupMessage is the engine-to-service callback: the engine asks for a
	// message it delivered earlier, answered from persisted storage.
	LookupMessage(ctx context.Context, messageID string) (json.RawMessage, bool)
}

// CredentialSource is the session-material store the engine reads at connect
// time and writes on every rotation.
type CredentialSource interface {
	Get(ctx context.Context, key string) (CredentialValue, bool, error)
	Set(ctx context.Context, key string, value CredentialValue) error
	SetBatch(ctx context.Context, values map[string]CredentialValue) error
	Delete(ctx context.Context, key string) error
}

// CredentialValue is one opaque piece of session material. Exactly one of
// Binary or Structured is set, selected by Encoding.
type CredentialValue struct {
	Encoding   Encoding
	Binary     []byte
	Structured json.RawMessage
}

type Encoding string

const (
	EncodingBinary     Encoding = "binary"
	EncodingStructured Encoding = "structured"
)

// Account identifies the dialing account to the engine.
type Account struct {
	ID               string
	OrganizationID   string
	ExternalIdentity string
}

// CloseReason describes why a connection ended. LoggedOut closes are terminal:
// the session is gone on the remote side and reconnecting requires re-pairing.
type CloseReason struct {
	Code      int
	LoggedOut bool
	Err       error
}

func (r CloseReason) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.LoggedOut {
		return "logged out"
	}
	return "connection closed"
}

type BatchKind string

const (
	// BatchNotify carries live traffic.
	BatchNotify BatchKind = "notify"
	// BatchHistory carries backfill synced from the remote store; the
	// ingestion pipeline skips it.
	BatchHistory BatchKind = "history"
)

type MessageBatch struct {
	Kind  BatchKind         `json:"kind"`
	Items []InboundEnvelope `json:"items"`
}

// InboundEnvelope is one raw inbound message event.
type InboundEnvelope struct {
	MessageID string `json:"messageId"`
	// RemoteIdentity is the counterparty's primary address.
	RemoteIdentity string `json:"remoteIdentity"`
	// AltIdentity is an alternate or linked identifier for the same logical
	// contact. When set it is preferred over RemoteIdentity.
	AltIdentity    string     `json:"altIdentity,omitempty"`
	SenderIdentity string     `json:"senderIdentity,omitempty"`
	DisplayName    string     `json:"displayName,omitempty"`
	FromMe         bool       `json:"fromMe"`
	IsGroup        bool       `json:"isGroup"`
	Timestamp      time.Time  `json:"timestamp"`
	Payload        *Payload   `json:"payload,omitempty"`
	Quoted         *QuotedRef `json:"quoted,omitempty"`
}

type QuotedRef struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content,omitempty"`
}

// Payload is the raw content of one message. The engine sets at most one of
// the pointer fields; the classifier probes them first-match. An empty
// Payload (all nil) carries no user-visible content.
type Payload struct {
	Text         *TextPayload     `json:"text,omitempty"`
	Image        *MediaPayload    `json:"image,omitempty"`
	Video        *MediaPayload    `json:"video,omitempty"`
	Document     *MediaPayload    `json:"document,omitempty"`
	Audio        *MediaPayload    `json:"audio,omitempty"`
	Sticker      *MediaPayload    `json:"sticker,omitempty"`
	Location     *LocationPayload `json:"location,omitempty"`
	LiveLocation *LocationPayload `json:"liveLocation,omitempty"`
	Contact      *ContactPayload  `json:"contact,omitempty"`
	ContactList  *ContactPayload  `json:"contactList,omitempty"`
	Reaction     *ReactionPayload `json:"reaction,omitempty"`
	Protocol     *json.RawMessage `json:"protocol,omitempty"`
	Call         *CallPayload     `json:"call,omitempty"`
	// Other holds a non-empty payload the engine could not shape into any of
	// the known variants.
	Other json.RawMessage `json:"other,omitempty"`
}

// IsEmpty reports whether the payload carries nothing at all.
func (p *Payload) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Text == nil && p.Image == nil && p.Video == nil && p.Document == nil &&
		p.Audio == nil && p.Sticker == nil && p.Location == nil && p.LiveLocation == nil &&
		p.Contact == nil && p.ContactList == nil && p.Reaction == nil &&
		p.Protocol == nil && p.Call == nil && len(p.Other) == 0
}

type TextPayload struct {
	Body string `json:"body"`
}

type MediaPayload struct {
	Caption  string          `json:"caption,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Size     int64           `json:"size,omitempty"`
	Ref      json.RawMessage `json:"ref,omitempty"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

type ContactPayload struct {
	DisplayName string   `json:"displayName,omitempty"`
	Vcards      []string `json:"vcards,omitempty"`
}

type ReactionPayload struct {
	Emoji           string `json:"emoji"`
	TargetMessageID string `json:"targetMessageId,omitempty"`
}

type CallPayload struct {
	CallID string `json:"callId,omitempty"`
	Video  bool   `json:"video,omitempty"`
	Missed bool   `json:"missed,omitempty"`
}

// OutboundContent is what the dispatcher submits over the wire.
type OutboundContent struct {
	Text     string          `json:"text,omitempty"`
	MediaURL string          `json:"mediaUrl,omitempty"`
	Filename string          `json:"filename,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Quoted   *QuotedRef      `json:"quoted,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// SendReceipt is the wire acknowledgement for an outbound send.
type SendReceipt struct {
	MessageID string
	Timestamp time.Time
}
