package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chatbridge/session-server-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	status := statusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}

	WriteJSON(w, status, response)
}

// statusFromCode maps ErrorCode to HTTP status code
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired:
		return http.StatusBadRequest

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeConflict,
		apperrors.ErrCodeAlreadyConnected:
		return http.StatusConflict

	// 410 Gone: the remote side ended the session, re-pairing is required
	case apperrors.ErrCodeTerminalLogout:
		return http.StatusGone

	// 502 Bad Gateway
	case apperrors.ErrCodeEngine:
		return http.StatusBadGateway

	// 503 Service Unavailable: retryable, the session may still come up
	case apperrors.ErrCodeChannelNotReady,
		apperrors.ErrCodeTransientNetwork:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeDatabase,
		apperrors.ErrCodePersistence,
		apperrors.ErrCodeCredentialDecode,
		apperrors.ErrCodeMediaFetch:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
