package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chatbridge/session-server-go/internal/errors"
	"github.com/chatbridge/session-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeBody(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperrors.InvalidInput("body", "malformed JSON")
	}
	return nil
}
