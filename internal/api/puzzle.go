package api

import (
	"net/http"

	"github.com/ashureev/support-desk/internal/chat"
)

// HandleNextPuzzle handles GET /api/puzzle. An unknown session id is
// recreated rather than rejected. The response carries no correctIndex:
// answers are scored server-side against the issued instance, so the
// client never learns which image is correct.
func (h *Handler) HandleNextPuzzle(w http.ResponseWriter, r *http.Request) {
	id, ok := requestSessionID(w, r)
	if !ok {
		return
	}
	view, err := h.chat.NextPuzzle(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// HandleSubmitPuzzle handles POST /api/puzzle. Unlike the other endpoints an
// unknown session is a 404, since there is no progress to update.
func (h *Handler) HandleSubmitPuzzle(w http.ResponseWriter, r *http.Request) {
	var sub chat.Submission
	if !h.decode(w, r, &sub) {
		return
	}
	var ok bool
	if sub.SessionID, ok = sessionID(w, sub.SessionID); !ok {
		return
	}
	res, err := h.chat.SubmitPuzzle(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
