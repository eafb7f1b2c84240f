package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/engine/webhooks"
	"taxdesk/internal/engine/workflow"
	"taxdesk/internal/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

// writeServiceError renders an engine error with the matching status code.
// Unexpected errors are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, webhooks.ErrInvalidEndpoint),
		stderrors.Is(err, workflow.ErrInvalidFiling),
		stderrors.Is(err, events.ErrUnknownEventType):
		errors.WriteCode(w, errors.ErrCodeInvalidInput, err.Error())
	case stderrors.Is(err, webhooks.ErrEndpointNotFound),
		stderrors.Is(err, webhooks.ErrDeliveryNotFound),
		stderrors.Is(err, events.ErrEventNotFound),
		stderrors.Is(err, workflow.ErrFilingNotFound):
		errors.WriteCode(w, errors.ErrCodeNotFound, err.Error())
	case stderrors.Is(err, workflow.ErrInvalidTransition):
		errors.WriteCode(w, errors.ErrCodeInvalidTransition, err.Error())
	case stderrors.Is(err, webhooks.ErrDeliveryAlreadySucceeded),
		stderrors.Is(err, webhooks.ErrEndpointInactive):
		errors.WriteCode(w, errors.ErrCodeConflict, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		errors.WriteCode(w, errors.ErrCodeInternal, "Internal server error")
	}
}

// pagination reads ?page= and ?limit= the same way for every list endpoint.
func pagination(r *http.Request) (limit, offset int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return limit, (page - 1) * limit
}
