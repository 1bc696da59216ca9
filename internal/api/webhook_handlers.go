package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
	"github.com/ignite/outreach-sequencer/internal/smartlead"
)

const maxWebhookBytes = 1 << 20

// WebhookAck is the response to a webhook delivery.
type WebhookAck struct {
	RecordID  string                  `json:"record_id,omitempty"`
	Status    domain.ProcessingStatus `json:"status,omitempty"`
	Queued    bool                    `json:"queued,omitempty"`
	Duplicate bool                    `json:"duplicate,omitempty"`
	Ignored   bool                    `json:"ignored,omitempty"`
}

// SmartleadWebhook handles POST /webhooks/smartlead. The payload, minus its
// secret_key, is stored before any processing so a failed handler can be
// replayed.
// Event types the reconciler does not track are acknowledged and dropped.
func (h *Handlers) SmartleadWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	kind, err := smartlead.Peek(payload, h.webhookSecret)
	switch {
	case errors.Is(err, smartlead.ErrBadSecret):
		logger.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
		httputil.Error(w, http.StatusUnauthorized, "invalid secret")
		return
	case errors.Is(err, reconcile.ErrUnknownKind):
		logger.Debug("webhook event ignored", "error", err)
		httputil.OK(w, WebhookAck{Ignored: true})
		return
	case err != nil:
		writeServiceError(w, err)
		return
	}

	payload, err = smartlead.StripSecret(payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rec, needsProcessing, err := h.Webhooks.Ingest(r.Context(), kind, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !needsProcessing {
		httputil.OK(w, WebhookAck{RecordID: rec.ID, Status: rec.Status, Duplicate: true})
		return
	}

	if h.Tasks != nil {
		err := h.Tasks.EnqueueWebhook(r.Context(), rec.ID)
		if err == nil {
			httputil.Accepted(w, WebhookAck{RecordID: rec.ID, Status: rec.Status, Queued: true})
			return
		}
		logger.Warn("webhook enqueue failed, processing inline", "record_id", rec.ID, "error", err)
	}

	processed, err := h.Webhooks.Process(r.Context(), rec.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, WebhookAck{RecordID: processed.ID, Status: processed.Status})
}

// GetWebhookRecord handles GET /api/webhooks/{recordID}.
func (h *Handlers) GetWebhookRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Webhooks.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// ListFailedWebhooks handles GET /api/webhooks/failed?kind=.
func (h *Handlers) ListFailedWebhooks(w http.ResponseWriter, r *http.Request) {
	kind := domain.WebhookKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		httputil.ValidationFailed(w, map[string]string{"kind": "is invalid"})
		return
	}
	p := ParsePagination(r, 50, 200)
	recs, total, err := h.Webhooks.ListFailed(r.Context(), kind, p.Limit, p.Offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.WebhookRecord{}
	}
	httputil.OK(w, NewPaginatedResponse(recs, p, total))
}

// BackfillRequest selects which FAILED records to replay. An empty kind
// replays every kind.
type BackfillRequest struct {
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=email.sent email.opened email.replied email.bounced"`
}

// BackfillWebhooks handles POST /api/webhooks/backfill.
func (h *Handlers) BackfillWebhooks(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.Webhooks.Backfill(r.Context(), domain.WebhookKind(req.Kind))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("webhook backfill", "kind", req.Kind, "replayed", n)
	httputil.OK(w, map[string]int{"replayed": n})
}
