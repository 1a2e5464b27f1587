package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/librarian-ai/librarian/internal/session"
)

// sessionHandler serves session lifecycle endpoints.
type sessionHandler struct {
	store  *session.Store
	logger *slog.Logger
}

// create provisions a new empty session.
func (h *sessionHandler) create(w http.ResponseWriter, _ *http.Request) {
	summary := h.store.Create()
	h.logger.Info("session created", "session_id", summary.ID)
	writeJSON(w, http.StatusCreated, summary, h.logger)
}

// list returns summaries of all live sessions, most recent activity first.
func (h *sessionHandler) list(w http.ResponseWriter, _ *http.Request) {
	summaries := h.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"total":    len(summaries),
	}, h.logger)
}

// history returns the terminal turns of a session in completion order.
func (h *sessionHandler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	turns, err := h.store.History(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"turns":     turns,
	}, h.logger)
}

// stats returns the aggregated cost statistics of a session.
func (h *sessionHandler) stats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	stats, err := h.store.Stats(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats, h.logger)
}

// delete removes a session and its history.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(id); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment. Writes a 400 response and
// returns false when the segment is not a UUID.
func (h *sessionHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session ID must be a UUID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

func (h *sessionHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist", h.logger)
		return
	}
	h.logger.Error("session store error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
}
