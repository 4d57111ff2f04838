package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/engine"
)

// Registry is the in-memory index of live protocol connections, at most one
// per account. It is injected shared state: lifecycle callbacks and request
// handlers both touch it, so all access goes through the mutex.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]engine.Client
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]engine.Client)}
}

// Register installs the client for the account, closing any displaced prior
// connection for the same key.
func (r *Registry) Register(accountID string, client engine.Client) {
	r.mu.Lock()
	prior := r.conns[accountID]
	r.conns[accountID] = client
	r.mu.Unlock()

	if prior != nil && prior != client {
		log.Warn().Str("accountId", accountID).Msg("replacing live connection, closing prior")
		_ = prior.Close()
	}
}

// Deregister removes the entry only if it still belongs to the given client,
// so a stale close cannot evict a newer connection.
func (r *Registry) Deregister(accountID string, client engine.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[accountID] == client {
		delete(r.conns, accountID)
	}
}

func (r *Registry) Get(accountID string) (engine.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.conns[accountID]
	return client, ok
}

// Ready reports whether the account has a live connection with an
// authenticated identity. Pairing alone is not readiness.
func (r *Registry) Ready(accountID string) bool {
	client, ok := r.Get(accountID)
	return ok && client.AuthenticatedIdentity() != ""
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
