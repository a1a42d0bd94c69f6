package api

import (
	"net/http"
)

type incrementRequest struct {
	Type      string `json:"type"`
	Increment int64  `json:"increment"`
}

type incrementResponse struct {
	Success  bool  `json:"success"`
	Value    int64 `json:"value"`
	Degraded bool  `json:"degraded,omitempty"`
}

// HandleGetCounters handles GET /api/counters. Store failures are reported
// as fallback values, never as errors.
func (h *Handler) HandleGetCounters(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.chat.Counters().Snapshot(r.Context()))
}

// HandleIncrementCounter handles POST /api/counters.
func (h *Handler) HandleIncrementCounter(w http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if !h.decode(w, r, &req) {
		return
	}
	value, degraded, err := h.chat.Counters().Increment(r.Context(), req.Type, req.Increment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, incrementResponse{Success: true, Value: value, Degraded: degraded})
}
