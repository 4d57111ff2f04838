package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatbridge/session-server-go/internal/service"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{chatID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/messages", h.ListMessages)
		r.Post("/read", h.MarkRead)
	})
	return r
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	chat, err := h.chatService.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	page := ParsePagination(r)

	messages, err := h.chatService.ListMessages(r.Context(), chatID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	updated, err := h.chatService.MarkRead(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chatId": chatID, "updated": updated})
}
