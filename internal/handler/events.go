package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/events"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
)

// EventsHandler streams one account's session events over SSE: status
// transitions, pairing codes, and ingested or sent messages.
type EventsHandler struct {
	broker      *events.Broker
	accountRepo repository.AccountRepository
}

func NewEventsHandler(broker *events.Broker, accountRepo repository.AccountRepository) *EventsHandler {
	return &EventsHandler{
		broker:      broker,
		accountRepo: accountRepo,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broker.Subscribe(accountID)
	defer h.broker.Unsubscribe(sub)

	log.Info().
		Str("accountId", accountID).
		Msg("sse connection established")

	// Initial snapshot so late subscribers see the current state immediately.
	if err := h.sendEvent(w, flusher, "status", map[string]any{
		"status": account.Status,
		"ready":  account.Status == model.AccountStatusConnected,
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(events.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("accountId", accountID).
				Msg("sse connection closed by client")
			return

		case <-sub.Done:
			log.Info().
				Str("accountId", accountID).
				Msg("sse connection closed by broker")
			return

		case event := <-sub.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("accountId", accountID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, events.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event events.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
