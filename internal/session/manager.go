// Package session owns the lifecycle of every account's protocol connection:
// pairing, reconnect with bounded backoff, and terminal logout. Each account
// gets one runner goroutine; accounts never block each other.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/credentials"
	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/engine"
	"github.com/chatbridge/session-server-go/internal/media"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
)

// Ingestor consumes inbound message batches from a live connection.
type Ingestor interface {
	ProcessBatch(ctx context.Context, account model.Account, dl media.Downloader, batch engine.MessageBatch)
}

// Notifier publishes account events for UI consumers.
type Notifier interface {
	Publish(ctx context.Context, accountID string, eventType string, data any) error
}

type Manager struct {
	accountRepo    repository.AccountRepository
	credentialRepo repository.CredentialRepository
	messageRepo    repository.MessageRepository
	dialer         engine.Dialer
	registry       *Registry
	ingestor       Ingestor
	notifier       Notifier
	backoff        Backoff

	mu      sync.Mutex
	runners map[string]*runner
	wg      sync.WaitGroup
}

func NewManager(
	accountRepo repository.AccountRepository,
	credentialRepo repository.CredentialRepository,
	messageRepo repository.MessageRepository,
	dialer engine.Dialer,
	registry *Registry,
	ingestor Ingestor,
	notifier Notifier,
	backoff Backoff,
) *Manager {
	return &Manager{
		accountRepo:    accountRepo,
		credentialRepo: credentialRepo,
		messageRepo:    messageRepo,
		dialer:         dialer,
		registry:       registry,
		ingestor:       ingestor,
		notifier:       notifier,
		backoff:        backoff,
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect starts (or restarts) the session for an account. A logged-out
// account is allowed through: its credentials are gone, so the engine will
// issue a fresh pairing code.
func (m *Manager) Connect(ctx context.Context, accountID string) error {
	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		return apperrors.NotFound("Account")
	}

	m.mu.Lock()
	if m.runners == nil {
		m.runners = make(map[string]*runner)
	}
	if _, exists := m.runners[accountID]; exists {
		m.mu.Unlock()
		return apperrors.AlreadyConnected(accountID)
	}
	r := newRunner(m, *account)
	m.runners[accountID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		r.run()
		m.mu.Lock()
		delete(m.runners, accountID)
		m.mu.Unlock()
	}()

	log.Info().
		Str("accountId", accountID).
		Str("organizationId", account.OrganizationID).
		Msg("session started")
	return nil
}

// Logout terminates the account's session for good: the remote session is
// ended when a connection is live, credentials are purged either way, and no
// reconnect is attempted.
func (m *Manager) Logout(ctx context.Context, accountID string) error {
	m.mu.Lock()
	r := m.runners[accountID]
	m.mu.Unlock()

	if r != nil {
		return r.logout(ctx)
	}

	// No live runner: purge directly so an offline account can still be
	// unlinked by the operator.
	account, err := m.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		return apperrors.NotFound("Account")
	}

	if _, err := m.credentialRepo.DeleteAllForAccount(ctx, account.OrganizationID, account.ID); err != nil {
		return apperrors.Database(err)
	}
	if err := m.accountRepo.UpdateStatus(ctx, accountID, model.UpdateAccountStatusParams{
		Status: model.AccountStatusLoggedOut,
	}); err != nil {
		return apperrors.Database(err)
	}

	m.publish(ctx, accountID, "status", map[string]any{"status": model.AccountStatusLoggedOut})
	log.Info().Str("accountId", accountID).Msg("offline account logged out")
	return nil
}

// Restore reconnects every account that held a session before the last
// shutdown. Logged-out accounts are skipped by the repository query.
func (m *Manager) Restore(ctx context.Context) {
	accounts, err := m.accountRepo.FindResumable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list resumable accounts")
		return
	}
	for _, account := range accounts {
		if err := m.Connect(ctx, account.ID); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("failed to restore session")
		}
	}
	if len(accounts) > 0 {
		log.Info().Int("count", len(accounts)).Msg("restoring sessions")
	}
}

// Shutdown closes every runner and waits for them within the context
// deadline. Storage must stay open until this returns.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for _, r := range m.runners {
		r.requestStop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all sessions closed")
	case <-ctx.Done():
		log.Warn().Msg("session shutdown timed out")
	}
}

func (m *Manager) publish(ctx context.Context, accountID, eventType string, data any) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, accountID, eventType, data); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("failed to publish account event")
	}
}

// runner drives one account's connection state machine. All transitions run
// on the runner goroutine; engine callbacks only hand events over.
type runner struct {
	m       *Manager
	store   *credentials.Store
	pending chan engine.CloseReason
	stop    chan struct{}
	stopped sync.Once

	mu      sync.Mutex
	account model.Account
	client  engine.Client
}

func newRunner(m *Manager, account model.Account) *runner {
	return &runner{
		m:       m,
		account: account,
		pending: make(chan engine.CloseReason, 1),
		stop:    make(chan struct{}),
	}
}

func (r *runner) run() {
	ctx := context.Background()
	accountID := r.account.ID

	r.store = credentials.NewStore(r.m.credentialRepo, r.account.OrganizationID, accountID)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.store.Close(closeCtx)
		cancel()
	}()

	if err := r.store.Load(ctx); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to load credentials")
		r.setStatus(ctx, model.AccountStatusDisconnected, nil, false)
		return
	}

	attempt := 0
	for {
		select {
		case <-r.stop:
			r.closeClient()
			return
		default:
		}

		reason, connected := r.connectOnce(ctx)
		if connected {
			attempt = 0
		}

		select {
		case <-r.stop:
			// Shutdown path: leave the persisted status as-is so the session
			// is resumed on the next boot.
			return
		default:
		}

		if reason.LoggedOut {
			r.handleTerminalLogout(ctx)
			return
		}

		r.setStatus(ctx, model.AccountStatusDisconnected, nil, false)

		if r.m.backoff.Exhausted(attempt) {
			log.Error().
				Str("accountId", accountID).
				Int("attempts", attempt).
				Msg("reconnect budget exhausted, giving up")
			return
		}

		delay := r.m.backoff.Delay(attempt)
		attempt++
		log.Info().
			Str("accountId", accountID).
			Dur("delay", delay).
			Int("attempt", attempt).
			Msg("scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials and waits for the connection to end. The second result
// reports whether the connection ever reached the open state.
func (r *runner) connectOnce(ctx context.Context) (engine.CloseReason, bool) {
	accountID := r.account.ID

	identity := ""
	r.mu.Lock()
	if r.account.ExternalIdentity != nil {
		identity = *r.account.ExternalIdentity
	}
	r.mu.Unlock()

	client, err := r.m.dialer.Dial(ctx, engine.Account{
		ID:               accountID,
		OrganizationID:   r.account.OrganizationID,
		ExternalIdentity: identity,
	}, r.store, r)
	if err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("engine dial failed")
		return engine.CloseReason{Err: err}, false
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	select {
	case <-r.stop:
		r.closeClient()
		return engine.CloseReason{}, false
	case reason := <-r.pending:
		r.m.registry.Deregister(accountID, client)
		r.closeClient()
		wasOpen := r.wasOpen()
		log.Info().
			Str("accountId", accountID).
			Str("reason", reason.String()).
			Bool("loggedOut", reason.LoggedOut).
			Msg("connection closed")
		return reason, wasOpen
	}
}

func (r *runner) wasOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account.Status == model.AccountStatusConnected
}

func (r *runner) handleTerminalLogout(ctx context.Context) {
	accountID := r.account.ID
	if err := r.store.Purge(ctx); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to purge credentials on logout")
	}
	r.setStatus(ctx, model.AccountStatusLoggedOut, nil, false)
	log.Info().Str("accountId", accountID).Msg("terminal logout, session state purged")
}

func (r *runner) logout(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if client == nil {
		return apperrors.ChannelNotReady(r.account.ID)
	}
	if err := client.Logout(ctx); err != nil {
		return apperrors.Engine(err)
	}
	// The engine acknowledges with a logged-out close event; the runner loop
	// finishes the purge from there.
	return nil
}

func (r *runner) requestStop() {
	r.stopped.Do(func() {
		close(r.stop)
	})
}

func (r *runner) closeClient() {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}

// setStatus persists the transition and mirrors it to event subscribers.
// The pairing code is only ever set while pending.
func (r *runner) setStatus(ctx context.Context, status model.AccountStatus, pairingCode *string, connectedNow bool) {
	accountID := r.account.ID

	var identity *string
	r.mu.Lock()
	r.account.Status = status
	r.account.PairingCode = pairingCode
	if client := r.client; client != nil {
		if id := client.AuthenticatedIdentity(); id != "" {
			identity = &id
			r.account.ExternalIdentity = &id
		}
	}
	r.mu.Unlock()

	err := r.m.accountRepo.UpdateStatus(ctx, accountID, model.UpdateAccountStatusParams{
		Status:           status,
		PairingCode:      pairingCode,
		ExternalIdentity: identity,
		ConnectedNow:     connectedNow,
	})
	if err != nil {
		log.Error().Err(err).Str("accountId", accountID).Str("status", string(status)).Msg("failed to persist account status")
	}

	data := map[string]any{"status": status}
	if pairingCode != nil {
		data["pairingCode"] = *pairingCode
	}
	r.m.publish(ctx, accountID, "status", data)
}

// EventSink implementation. The engine serializes these per account.

func (r *runner) OnPairingCode(code string) {
	log.Info().Str("accountId", r.account.ID).Msg("pairing code issued")
	r.setStatus(context.Background(), model.AccountStatusPending, &code, false)
}

func (r *runner) OnConnecting() {
	log.Debug().Str("accountId", r.account.ID).Msg("engine connecting")
}

func (r *runner) OnOpen(identity string) {
	ctx := context.Background()

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client != nil {
		r.m.registry.Register(r.account.ID, client)
	}

	r.setStatus(ctx, model.AccountStatusConnected, nil, true)
	log.Info().
		Str("accountId", r.account.ID).
		Str("identity", identity).
		Msg("session open")
}

func (r *runner) OnClose(reason engine.CloseReason) {
	select {
	case r.pending <- reason:
	default:
	}
}

func (r *runner) OnMessageBatch(batch engine.MessageBatch) {
	r.mu.Lock()
	account := r.account
	client := r.client
	r.mu.Unlock()

	var dl media.Downloader
	if client != nil {
		dl = client
	}
	r.m.ingestor.ProcessBatch(context.Background(), account, dl, batch)
}

// LookupMessage answers the engine's ask-back for a previously seen message.
func (r *runner) LookupMessage(ctx context.Context, messageID string) (raw json.RawMessage, ok bool) {
	msg, err := r.m.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		log.Warn().Err(err).Str("messageId", messageID).Msg("message lookup failed")
		return nil, false
	}
	if msg == nil {
		return nil, false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}
	return data, true
}

var _ engine.EventSink = (*runner)(nil)
