package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/session-server-go/internal/engine"
)

type fakeClient struct {
	mu       sync.Mutex
	identity string
	closed   bool
}

func (c *fakeClient) AuthenticatedIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *fakeClient) Send(ctx context.Context, remoteIdentity string, content engine.OutboundContent) (engine.SendReceipt, error) {
	return engine.SendReceipt{}, nil
}

func (c *fakeClient) DownloadMedia(ctx context.Context, ref json.RawMessage) ([]byte, error) {
	return nil, nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegistry(t *testing.T) {
	t.Run("at most one connection per account", func(t *testing.T) {
		r := NewRegistry()
		first := &fakeClient{identity: "a"}
		second := &fakeClient{identity: "a"}

		r.Register("acc-1", first)
		r.Register("acc-1", second)

		assert.Equal(t, 1, r.Len())
		got, ok := r.Get("acc-1")
		require.True(t, ok)
		assert.Same(t, second, got)
	})

	t.Run("register closes the displaced connection", func(t *testing.T) {
		r := NewRegistry()
		first := &fakeClient{}
		second := &fakeClient{}

		r.Register("acc-1", first)
		r.Register("acc-1", second)

		assert.True(t, first.isClosed())
		assert.False(t, second.isClosed())
	})

	t.Run("stale deregister cannot evict a newer connection", func(t *testing.T) {
		r := NewRegistry()
		old := &fakeClient{}
		current := &fakeClient{}

		r.Register("acc-1", old)
		r.Register("acc-1", current)
		r.Deregister("acc-1", old)

		got, ok := r.Get("acc-1")
		require.True(t, ok)
		assert.Same(t, current, got)

		r.Deregister("acc-1", current)
		_, ok = r.Get("acc-1")
		assert.False(t, ok)
	})

	t.Run("readiness requires an authenticated identity", func(t *testing.T) {
		r := NewRegistry()
		assert.False(t, r.Ready("acc-1"), "no entry")

		pairing := &fakeClient{}
		r.Register("acc-1", pairing)
		assert.False(t, r.Ready("acc-1"), "paired but not authenticated")

		pairing.mu.Lock()
		pairing.identity = "me@example.net"
		pairing.mu.Unlock()
		assert.True(t, r.Ready("acc-1"))
	})
}
