package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/session-server-go/internal/dispatch"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/service"
	"github.com/chatbridge/session-server-go/internal/session"
)

type stubAccountRepo struct {
	account *model.Account
}

func (m *stubAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if m.account != nil && m.account.ID == id {
		return m.account, nil
	}
	return nil, nil
}

func (m *stubAccountRepo) FindResumable(ctx context.Context) ([]model.Account, error) {
	return nil, nil
}

func (m *stubAccountRepo) FindStalePending(ctx context.Context) ([]model.Account, error) {
	return nil, nil
}

func (m *stubAccountRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error {
	return nil
}

type stubChatRepo struct {
	chats []model.Chat
}

func (m *stubChatRepo) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	for i := range m.chats {
		if m.chats[i].ID == id {
			return &m.chats[i], nil
		}
	}
	return nil, nil
}

func (m *stubChatRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.Chat, error) {
	return m.chats, nil
}

func (m *stubChatRepo) Resolve(ctx context.Context, params model.ResolveChatParams) (*model.Chat, error) {
	return nil, nil
}

func (m *stubChatRepo) Touch(ctx context.Context, chatID string, lastMessageAt time.Time, incrementUnread bool) error {
	return nil
}

func (m *stubChatRepo) ResetUnread(ctx context.Context, chatID string) error {
	return nil
}

type stubMessageRepo struct{}

func (m *stubMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return nil, nil
}

func (m *stubMessageRepo) FindByChatID(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	return nil, nil
}

func (m *stubMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error) {
	return nil, false, nil
}

func (m *stubMessageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	return nil
}

func (m *stubMessageRepo) MarkReadByChat(ctx context.Context, chatID string, readAt time.Time) (int64, error) {
	return 0, nil
}

func testRouter(account *model.Account, chats []model.Chat) *chi.Mux {
	accountRepo := &stubAccountRepo{account: account}
	chatRepo := &stubChatRepo{chats: chats}
	msgRepo := &stubMessageRepo{}
	registry := session.NewRegistry()

	manager := session.NewManager(accountRepo, nil, msgRepo, nil, registry, nil, nil, session.Backoff{})
	dispatcher := dispatch.NewDispatcher(registry, accountRepo, chatRepo, msgRepo, nil)
	chatService := service.NewChatService(nil, chatRepo, msgRepo)

	accountHandler := NewAccountHandler(manager, dispatcher, chatService, accountRepo)
	chatHandler := NewChatHandler(chatService)

	r := chi.NewRouter()
	r.Mount("/v1/accounts", accountHandler.Routes())
	r.Mount("/v1/chats", chatHandler.Routes())
	return r
}

func TestAccountStatus(t *testing.T) {
	code := "ABCD-1234"
	account := &model.Account{
		ID:             "acc-1",
		OrganizationID: "org-1",
		Status:         model.AccountStatusPending,
		PairingCode:    &code,
	}
	router := testRouter(account, nil)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-1/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `"status":"pending"`)
		assert.Contains(t, body, `"pairingCode":"ABCD-1234"`)
		assert.Contains(t, body, `"ready":false`)
	})

	t.Run("unknown account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/other/status", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSendMessageEndpoint(t *testing.T) {
	account := &model.Account{ID: "acc-1", OrganizationID: "org-1", Status: model.AccountStatusConnected}
	router := testRouter(account, nil)

	t.Run("no live connection yields service unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/accounts/acc-1/messages",
			strings.NewReader(`{"remoteIdentity":"contact@example.net","text":"hi"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "CHANNEL_NOT_READY")
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/accounts/acc-1/messages",
			strings.NewReader(`{`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatEndpoints(t *testing.T) {
	account := &model.Account{ID: "acc-1", OrganizationID: "org-1"}
	chats := []model.Chat{{ID: "chat-1", AccountID: "acc-1", RemoteIdentity: "contact@example.net", UnreadCount: 2}}
	router := testRouter(account, chats)

	t.Run("list chats for account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-1/chats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"remoteIdentity":"contact@example.net"`)
	})

	t.Run("get chat", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chats/chat-1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"unreadCount":2`)
	})

	t.Run("unknown chat", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chats/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("mark read on unknown chat", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chats/nope/read", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
