package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/session-server-go/internal/engine"
)

var upgrader = websocket.Upgrader{}

// engineStub plays the sidecar side of the bridge protocol for one socket.
type engineStub struct {
	server *httptest.Server

	mu    sync.Mutex
	conn  *websocket.Conn
	query map[string]string
	// frames the service wrote, by op
	received chan frame
}

func newEngineStub(t *testing.T) *engineStub {
	t.Helper()
	s := &engineStub{received: make(chan frame, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.query = map[string]string{
			"accountId":      r.URL.Query().Get("accountId"),
			"organizationId": r.URL.Query().Get("organizationId"),
			"identity":       r.URL.Query().Get("identity"),
		}
		s.mu.Unlock()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			s.received <- f
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *engineStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *engineStub) push(t *testing.T, f frame) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(f))
}

func (s *engineStub) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-s.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

type recordingSink struct {
	mu       sync.Mutex
	pairing  []string
	opened   []string
	closed   []engine.CloseReason
	batches  []engine.MessageBatch
	messages map[string]json.RawMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(map[string]json.RawMessage)}
}

func (s *recordingSink) OnPairingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairing = append(s.pairing, code)
}

func (s *recordingSink) OnConnecting() {}

func (s *recordingSink) OnOpen(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, identity)
}

func (s *recordingSink) OnClose(reason engine.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, reason)
}

func (s *recordingSink) OnMessageBatch(batch engine.MessageBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *recordingSink) LookupMessage(ctx context.Context, messageID string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.messages[messageID]
	return raw, ok
}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closed)
}

type memCreds struct {
	mu     sync.Mutex
	values map[string]engine.CredentialValue
}

func newMemCreds() *memCreds {
	return &memCreds{values: make(map[string]engine.CredentialValue)}
}

func (m *memCreds) Get(ctx context.Context, key string) (engine.CredentialValue, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memCreds) Set(ctx context.Context, key string, value engine.CredentialValue) error {
	return m.SetBatch(ctx, map[string]engine.CredentialValue{key: value})
}

func (m *memCreds) SetBatch(ctx context.Context, values map[string]engine.CredentialValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memCreds) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memCreds) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func dialStub(t *testing.T, stub *engineStub, sink engine.EventSink, creds engine.CredentialSource) engine.Client {
	t.Helper()
	d := NewDialer(stub.url())
	client, err := d.Dial(context.Background(), engine.Account{
		ID:               "acc-1",
		OrganizationID:   "org-1",
		ExternalIdentity: "me@example.net",
	}, creds, sink)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBridgeDial(t *testing.T) {
	stub := newEngineStub(t)
	dialStub(t, stub, newRecordingSink(), newMemCreds())

	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.query != nil
	}, time.Second, 10*time.Millisecond)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "acc-1", stub.query["accountId"])
	assert.Equal(t, "org-1", stub.query["organizationId"])
	assert.Equal(t, "me@example.net", stub.query["identity"])
}

func TestBridgeSend(t *testing.T) {
	stub := newEngineStub(t)
	client := dialStub(t, stub, newRecordingSink(), newMemCreds())

	type receipt struct {
		r   engine.SendReceipt
		err error
	}
	done := make(chan receipt, 1)
	go func() {
		r, err := client.Send(context.Background(), "contact@example.net", engine.OutboundContent{Text: "hi"})
		done <- receipt{r, err}
	}()

	f := stub.next(t)
	assert.Equal(t, "send", f.Op)
	var req sendRequest
	require.NoError(t, json.Unmarshal(f.Data, &req))
	assert.Equal(t, "contact@example.net", req.RemoteIdentity)
	assert.Equal(t, "hi", req.Content.Text)

	stub.push(t, frame{Op: "result", ID: f.ID, Data: json.RawMessage(`{"messageId":"wire-7"}`)})

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "wire-7", got.r.MessageID)
}

func TestBridgeEvents(t *testing.T) {
	stub := newEngineStub(t)
	sink := newRecordingSink()
	client := dialStub(t, stub, sink, newMemCreds())

	// Force the handshake to finish before pushing server frames.
	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.conn != nil
	}, time.Second, 10*time.Millisecond)

	stub.push(t, frame{Op: "pairing_code", Data: json.RawMessage(`{"code":"ABCD"}`)})
	stub.push(t, frame{Op: "open", Data: json.RawMessage(`{"identity":"me@example.net"}`)})

	assert.Eventually(t, func() bool {
		return client.AuthenticatedIdentity() == "me@example.net"
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, []string{"ABCD"}, sink.pairing)
	assert.Equal(t, []string{"me@example.net"}, sink.opened)
	sink.mu.Unlock()

	stub.push(t, frame{Op: "messages", Data: json.RawMessage(`{"kind":"notify","items":[{"messageId":"m1"}]}`)})
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.batches) == 1
	}, time.Second, 10*time.Millisecond)

	stub.push(t, frame{Op: "close", Data: json.RawMessage(`{"code":428,"loggedOut":false,"reason":"connection lost"}`)})
	assert.Eventually(t, func() bool {
		return sink.closeCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, client.AuthenticatedIdentity(), "identity cleared on close")
}

// downloadingSink fetches media from inside the batch callback, the way the
// ingestion pipeline does on a live connection.
type downloadingSink struct {
	*recordingSink
	mu      sync.Mutex
	client  engine.Client
	results chan downloadOutcome
}

type downloadOutcome struct {
	data []byte
	err  error
}

func (s *downloadingSink) setClient(c engine.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

func (s *downloadingSink) OnMessageBatch(batch engine.MessageBatch) {
	s.recordingSink.OnMessageBatch(batch)
	if len(batch.Items) > 0 && batch.Items[0].MessageID == "m1" {
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		data, err := client.DownloadMedia(context.Background(), json.RawMessage(`{"key":"x"}`))
		s.results <- downloadOutcome{data, err}
	}
}

func TestBridgeMediaDownloadDuringBatch(t *testing.T) {
	stub := newEngineStub(t)
	sink := &downloadingSink{
		recordingSink: newRecordingSink(),
		results:       make(chan downloadOutcome, 1),
	}
	client := dialStub(t, stub, sink, newMemCreds())
	sink.setClient(client)

	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.conn != nil
	}, time.Second, 10*time.Millisecond)

	stub.push(t, frame{Op: "messages", Data: json.RawMessage(`{"kind":"notify","items":[{"messageId":"m1"}]}`)})
	stub.push(t, frame{Op: "messages", Data: json.RawMessage(`{"kind":"notify","items":[{"messageId":"m2"}]}`)})

	// The download request must arrive while the first batch is still being
	// handled; a read loop delivering batches inline would never write it out
	// nor see its result.
	f := stub.next(t)
	require.Equal(t, "download", f.Op)
	stub.push(t, frame{Op: "result", ID: f.ID, Data: json.RawMessage(`{"data":"aGVsbG8="}`)})

	select {
	case got := <-sink.results:
		require.NoError(t, got.err)
		assert.Equal(t, []byte("hello"), got.data)
	case <-time.After(2 * time.Second):
		t.Fatal("download never completed")
	}

	assert.Eventually(t, func() bool {
		sink.recordingSink.mu.Lock()
		defer sink.recordingSink.mu.Unlock()
		return len(sink.batches) == 2
	}, time.Second, 10*time.Millisecond)

	sink.recordingSink.mu.Lock()
	defer sink.recordingSink.mu.Unlock()
	assert.Equal(t, "m1", sink.batches[0].Items[0].MessageID)
	assert.Equal(t, "m2", sink.batches[1].Items[0].MessageID, "delivery preserves arrival order")
}

func TestBridgeCredentialTraffic(t *testing.T) {
	stub := newEngineStub(t)
	creds := newMemCreds()
	dialStub(t, stub, newRecordingSink(), creds)

	assert.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return stub.conn != nil
	}, time.Second, 10*time.Millisecond)

	stub.push(t, frame{Op: "cred_set", Data: json.RawMessage(
		`{"records":{"device":{"encoding":"structured","data":{"id":1}}}}`,
	)})
	assert.Eventually(t, func() bool {
		return creds.has("device")
	}, time.Second, 10*time.Millisecond)

	stub.push(t, frame{Op: "cred_get", ID: 42, Data: json.RawMessage(`{"key":"device"}`)})
	f := stub.next(t)
	assert.Equal(t, "result", f.Op)
	assert.Equal(t, int64(42), f.ID)
	assert.JSONEq(t, `{"encoding":"structured","data":{"id":1}}`, string(f.Data))

	stub.push(t, frame{Op: "cred_get", ID: 43, Data: json.RawMessage(`{"key":"missing"}`)})
	f = stub.next(t)
	assert.Equal(t, int64(43), f.ID)
	assert.Equal(t, "null", string(f.Data))

	stub.push(t, frame{Op: "cred_del", Data: json.RawMessage(`{"keys":["device"]}`)})
	assert.Eventually(t, func() bool {
		return !creds.has("device")
	}, time.Second, 10*time.Millisecond)
}
