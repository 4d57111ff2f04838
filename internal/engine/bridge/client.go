// Package bridge binds the engine contract to an external protocol-engine
// sidecar over a WebSocket, one socket per account. The sidecar owns the wire
// protocol; this client only shuttles JSON frames: events and credential
// traffic flowing in, commands flowing out.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/config"
	"github.com/chatbridge/session-server-go/internal/engine"
)

type Dialer struct {
	baseURL string
}

func NewDialer(baseURL string) *Dialer {
	return &Dialer{baseURL: baseURL}
}

func (d *Dialer) Dial(ctx context.Context, account engine.Account, creds engine.CredentialSource, sink engine.EventSink) (engine.Client, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	u.Path = "/v1/sessions"
	q := u.Query()
	q.Set("accountId", account.ID)
	q.Set("organizationId", account.OrganizationID)
	if account.ExternalIdentity != "" {
		q.Set("identity", account.ExternalIdentity)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, config.EngineDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}

	c := &client{
		conn:     conn,
		account:  account,
		creds:    creds,
		sink:     sink,
		pending:  make(map[int64]chan frame),
		batchSig: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.batchLoop()
	return c, nil
}

var _ engine.Dialer = (*Dialer)(nil)

// frame is the unit of the bridge protocol. Server-initiated frames carry an
// event or a request; frames with an id correlate a request and its result.
type frame struct {
	Op    string          `json:"op"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	account engine.Account
	creds   engine.CredentialSource
	sink    engine.EventSink

	writeMu sync.Mutex

	mu       sync.Mutex
	identity string
	nextID   int64
	pending  map[int64]chan frame

	batchMu    sync.Mutex
	batchQueue []engine.MessageBatch
	batchSig   chan struct{}

	closeOnce  sync.Once
	closedSink sync.Once
	done       chan struct{}
}

func (c *client) AuthenticatedIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

type sendRequest struct {
	RemoteIdentity string                 `json:"remoteIdentity"`
	Content        engine.OutboundContent `json:"content"`
}

type sendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *client) Send(ctx context.Context, remoteIdentity string, content engine.OutboundContent) (engine.SendReceipt, error) {
	resp, err := c.request(ctx, "send", sendRequest{RemoteIdentity: remoteIdentity, Content: content})
	if err != nil {
		return engine.SendReceipt{}, err
	}
	var result sendResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return engine.SendReceipt{}, fmt.Errorf("decode send result: %w", err)
	}
	return engine.SendReceipt{MessageID: result.MessageID, Timestamp: result.Timestamp}, nil
}

type downloadRequest struct {
	Ref json.RawMessage `json:"ref"`
}

type downloadResult struct {
	Data []byte `json:"data"` // base64 on the wire
}

func (c *client) DownloadMedia(ctx context.Context, ref json.RawMessage) ([]byte, error) {
	resp, err := c.request(ctx, "download", downloadRequest{Ref: ref})
	if err != nil {
		return nil, err
	}
	var result downloadResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode download result: %w", err)
	}
	return result.Data, nil
}

func (c *client) Logout(ctx context.Context) error {
	_, err := c.request(ctx, "logout", nil)
	return err
}

func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// request writes a correlated frame and waits for its result.
func (c *client) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		data = encoded
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(frame{Op: op, ID: id, Data: data}); err != nil {
		return nil, err
	}

	timeout := time.NewTimer(config.EngineRequestTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("engine connection closed")
	case <-timeout.C:
		return nil, fmt.Errorf("engine %s request timed out", op)
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("engine %s: %s", op, resp.Error)
		}
		return resp.Data, nil
	}
}

func (c *client) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(config.EngineWriteTimeout))
	return c.conn.WriteJSON(f)
}

func (c *client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
				// Local close, not a network loss.
			default:
				c.deliverClose(engine.CloseReason{Err: err})
			}
			return
		}
		c.handleFrame(f)
	}
}

func (c *client) handleFrame(f frame) {
	switch f.Op {
	case "result":
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			ch <- f
		}

	case "pairing_code":
		var data struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		c.sink.OnPairingCode(data.Code)

	case "connecting":
		c.sink.OnConnecting()

	case "open":
		var data struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		c.mu.Lock()
		c.identity = data.Identity
		c.mu.Unlock()
		c.sink.OnOpen(data.Identity)

	case "close":
		var data struct {
			Code      int    `json:"code"`
			LoggedOut bool   `json:"loggedOut"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		c.mu.Lock()
		c.identity = ""
		c.mu.Unlock()
		reason := engine.CloseReason{Code: data.Code, LoggedOut: data.LoggedOut}
		if data.Reason != "" {
			reason.Err = fmt.Errorf("%s", data.Reason)
		}
		c.deliverClose(reason)

	case "messages":
		var batch engine.MessageBatch
		if err := json.Unmarshal(f.Data, &batch); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		// Ingestion issues correlated requests (media downloads) back over
		// this socket, and only the read loop can deliver their results.
		// Batches must leave the read loop or those requests never complete.
		c.enqueueBatch(batch)

	case "cred_set":
		var data struct {
			Records map[string]engine.CredentialValue `json:"records"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		if err := c.creds.SetBatch(context.Background(), data.Records); err != nil {
			log.Error().Err(err).Str("accountId", c.account.ID).Msg("bridge: credential batch update failed")
		}

	case "cred_del":
		var data struct {
			Keys []string `json:"keys"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		for _, key := range data.Keys {
			if err := c.creds.Delete(context.Background(), key); err != nil {
				log.Error().Err(err).Str("accountId", c.account.ID).Str("key", key).Msg("bridge: credential delete failed")
			}
		}

	case "cred_get":
		var data struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		c.answerCredGet(f.ID, data.Key)

	case "lookup":
		var data struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.logDecodeError(f.Op, err)
			return
		}
		// Lookup hits storage; answer off the read loop so a slow query
		// cannot stall the event stream.
		go c.answerLookup(f.ID, data.MessageID)

	default:
		log.Warn().Str("op", f.Op).Str("accountId", c.account.ID).Msg("bridge: unknown frame op")
	}
}

func (c *client) enqueueBatch(batch engine.MessageBatch) {
	c.batchMu.Lock()
	c.batchQueue = append(c.batchQueue, batch)
	c.batchMu.Unlock()
	select {
	case c.batchSig <- struct{}{}:
	default:
	}
}

// batchLoop drains queued batches to the sink one at a time, preserving
// arrival order.
func (c *client) batchLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.batchSig:
		}
		for {
			c.batchMu.Lock()
			if len(c.batchQueue) == 0 {
				c.batchMu.Unlock()
				break
			}
			batch := c.batchQueue[0]
			c.batchQueue = c.batchQueue[1:]
			c.batchMu.Unlock()
			c.sink.OnMessageBatch(batch)
		}
	}
}

func (c *client) answerCredGet(id int64, key string) {
	value, ok, err := c.creds.Get(context.Background(), key)
	if err != nil {
		c.respondError(id, err)
		return
	}
	if !ok {
		c.respond(id, json.RawMessage("null"))
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		c.respondError(id, err)
		return
	}
	c.respond(id, encoded)
}

func (c *client) answerLookup(id int64, messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.EngineRequestTimeout)
	defer cancel()

	raw, ok := c.sink.LookupMessage(ctx, messageID)
	if !ok {
		c.respond(id, json.RawMessage("null"))
		return
	}
	c.respond(id, raw)
}

func (c *client) respond(id int64, data json.RawMessage) {
	if err := c.write(frame{Op: "result", ID: id, Data: data}); err != nil {
		log.Error().Err(err).Str("accountId", c.account.ID).Msg("bridge: failed to answer engine request")
	}
}

func (c *client) respondError(id int64, cause error) {
	if err := c.write(frame{Op: "result", ID: id, Error: cause.Error()}); err != nil {
		log.Error().Err(err).Str("accountId", c.account.ID).Msg("bridge: failed to answer engine request")
	}
}

func (c *client) deliverClose(reason engine.CloseReason) {
	c.closedSink.Do(func() {
		c.sink.OnClose(reason)
	})
}

func (c *client) logDecodeError(op string, err error) {
	log.Error().Err(err).Str("op", op).Str("accountId", c.account.ID).Msg("bridge: malformed frame")
}
