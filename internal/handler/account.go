package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatbridge/session-server-go/internal/dispatch"
	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/repository"
	"github.com/chatbridge/session-server-go/internal/service"
	"github.com/chatbridge/session-server-go/internal/session"
)

// AccountHandler exposes the per-account session operations.
type AccountHandler struct {
	manager     *session.Manager
	dispatcher  *dispatch.Dispatcher
	chatService *service.ChatService
	accountRepo repository.AccountRepository
}

func NewAccountHandler(
	manager *session.Manager,
	dispatcher *dispatch.Dispatcher,
	chatService *service.ChatService,
	accountRepo repository.AccountRepository,
) *AccountHandler {
	return &AccountHandler{
		manager:     manager,
		dispatcher:  dispatcher,
		chatService: chatService,
		accountRepo: accountRepo,
	}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{accountID}", func(r chi.Router) {
		r.Post("/connect", h.Connect)
		r.Get("/status", h.Status)
		r.Post("/logout", h.Logout)
		r.Post("/messages", h.SendMessage)
		r.Get("/chats", h.ListChats)
	})
	return r
}

func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if err := h.manager.Connect(r.Context(), accountID); err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeAlreadyConnected) {
			// Idempotent from the caller's side.
			writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "started": false})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accountId": accountID, "started": true})
}

func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.accountRepo.FindByID(r.Context(), accountID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	resp := map[string]any{
		"accountId": account.ID,
		"status":    account.Status,
		"ready":     h.manager.Registry().Ready(accountID),
	}
	if account.PairingCode != nil {
		resp["pairingCode"] = *account.PairingCode
	}
	if account.ExternalIdentity != nil {
		resp["externalIdentity"] = *account.ExternalIdentity
	}
	if account.LastConnectedAt != nil {
		resp["lastConnectedAt"] = account.LastConnectedAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if err := h.manager.Logout(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "loggedOut": true})
}

func (h *AccountHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var params dispatch.SendParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.dispatcher.Send(r.Context(), accountID, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *AccountHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	page := ParsePagination(r)

	chats, err := h.chatService.ListChats(r.Context(), accountID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}
