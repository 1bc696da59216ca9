package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/queue"
)

const defaultActor = "api"

// RescheduleRequest moves an entry to a new send time.
type RescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Actor       string    `json:"actor,omitempty" validate:"max=128"`
}

// GetEntry handles GET /api/schedule/{entryID}.
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Schedule.Get(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}

// RescheduleEntry handles POST /api/schedule/{entryID}/reschedule.
func (h *Handlers) RescheduleEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	var req RescheduleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = defaultActor
	}

	res, err := h.Schedule.Reschedule(r.Context(), entryID, req.ScheduledAt, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("entry rescheduled", "entry_id", entryID, "actor", actor, "shifted", res.Shifted)
	httputil.OK(w, res)
}

// GenerateEntry handles POST /api/schedule/{entryID}/generate. With a
// queue the work is enqueued and 202 returned; otherwise it runs inline.
func (h *Handlers) GenerateEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	e, err := h.Schedule.Get(r.Context(), entryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if e.Status != domain.EntryNeedsGeneration {
		httputil.OK(w, e)
		return
	}

	if h.Tasks != nil {
		task, err := h.Tasks.EnqueueEntry(r.Context(), queue.KindGenerate, entryID)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Accepted(w, map[string]string{"entry_id": entryID, "task_id": task.ID})
		return
	}

	e, err = h.Generator.EnsureGenerated(r.Context(), entryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}

// ListFailedEntries handles GET /api/schedule/failed.
func (h *Handlers) ListFailedEntries(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	entries, total, err := h.Schedule.ListFailed(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ScheduleEntry{}
	}
	httputil.OK(w, NewPaginatedResponse(entries, p, total))
}
