package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
	"github.com/ignite/outreach-sequencer/internal/service/suppression"
)

// AddSuppressionRequest puts an address on the suppression list.
type AddSuppressionRequest struct {
	Email  string `json:"email" validate:"required,email,max=320"`
	Reason string `json:"reason" validate:"required,oneof=BOUNCE UNSUBSCRIBE MANUAL"`
}

// ListSuppressions handles GET /api/suppressions?reason=.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 500)
	filter := suppression.ListFilter{
		Reason: domain.SuppressionReason(r.URL.Query().Get("reason")),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	out, total, err := h.Suppressions.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if out == nil {
		out = []domain.Suppression{}
	}
	httputil.OK(w, NewPaginatedResponse(out, p, total))
}

// AddSuppression handles POST /api/suppressions.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req AddSuppressionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.Suppressions.Suppress(r.Context(), req.Email, domain.SuppressionReason(req.Reason), "api", ""); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": suppression.Normalize(req.Email), "reason": req.Reason})
}

// RemoveSuppression handles DELETE /api/suppressions/{email}.
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		httputil.BadRequest(w, "invalid email")
		return
	}
	if err := h.Suppressions.Remove(r.Context(), email); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}
