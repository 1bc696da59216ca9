package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

// StartSequenceRequest starts a thread from its initial template.
type StartSequenceRequest struct {
	TemplateID string `json:"template_id" validate:"required,max=64"`
}

// StartSequence handles POST /api/threads/{threadID}/sequence.
func (h *Handlers) StartSequence(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req StartSequenceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Starter.StartThread(r.Context(), threadID, req.TemplateID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("sequence started", "thread_id", threadID, "entries", len(res.EntryIDs), "generated", res.Generated)
	httputil.Created(w, res)
}

// GetThread handles GET /api/threads/{threadID}.
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	t, err := h.Threads.Get(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, t)
}

// GetThreadSchedule handles GET /api/threads/{threadID}/schedule.
func (h *Handlers) GetThreadSchedule(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	entries, err := h.Schedule.ListForThread(r.Context(), threadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"thread_id": threadID,
		"entries":   entries,
	})
}

// DeleteThreadSchedule handles DELETE /api/threads/{threadID}/schedule.
// Only schedules with no sent entry can be removed.
func (h *Handlers) DeleteThreadSchedule(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	n, err := h.Schedule.Cleanup(r.Context(), threadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("schedule cleaned up", "thread_id", threadID, "deleted", n)
	httputil.OK(w, map[string]int{"deleted": n})
}
