package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/fan-automation/internal/auth"
	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/httputil"
)

type suppressRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=320"`
	Reason      string `json:"reason" validate:"omitempty,suppression_reason"`
}

type unsuppressRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=320"`
	Override    bool   `json:"override"`
}

// HandleSuppress adds a suppression entry on behalf of the calling actor.
// Reason defaults to manual.
//
//	POST /api/v1/suppressions/suppress
func (h *Handlers) HandleSuppress(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.Unauthorized(w, "unauthorized")
		return
	}
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if httputil.ServiceError(w, validateRequest(req)) {
		return
	}
	reason := domain.SuppressionReason(req.Reason)
	if reason == "" {
		reason = domain.ReasonManual
	}

	created, err := h.suppressions.Suppress(r.Context(), req.RecipientID, reason, actor.ID)
	if httputil.ServiceError(w, err) {
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, map[string]any{
		"recipient_id": domain.NormalizeRecipient(req.RecipientID),
		"reason":       reason,
		"created":      created,
	})
}

// HandleUnsuppress revokes a recipient's manual entries, or every active
// entry when override is set. Automatic entries without override answer 409.
//
//	POST /api/v1/suppressions/unsuppress
func (h *Handlers) HandleUnsuppress(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httputil.Unauthorized(w, "unauthorized")
		return
	}
	var req unsuppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if httputil.ServiceError(w, validateRequest(req)) {
		return
	}

	n, err := h.suppressions.Unsuppress(r.Context(), req.RecipientID, actor.ID, req.Override)
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, map[string]any{
		"recipient_id": domain.NormalizeRecipient(req.RecipientID),
		"revoked":      n,
	})
}

// HandleSuppressionStatus returns a recipient's derived status and history.
//
//	GET /api/v1/suppressions/{recipient_id}
func (h *Handlers) HandleSuppressionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.suppressions.Status(r.Context(), chi.URLParam(r, "recipient_id"))
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, st)
}

// HandleListSuppressions pages through ledger entries.
//
//	GET /api/v1/suppressions?reason=&include_revoked=&page=&limit=
func (h *Handlers) HandleListSuppressions(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 500)
	f := domain.SuppressionFilter{
		Reason: domain.SuppressionReason(r.URL.Query().Get("reason")),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	f.IncludeRevoked, _ = strconv.ParseBool(r.URL.Query().Get("include_revoked"))

	entries, total, err := h.suppressions.List(r.Context(), f)
	if httputil.ServiceError(w, err) {
		return
	}
	if entries == nil {
		entries = []domain.SuppressionEntry{}
	}
	httputil.OK(w, NewPaginatedResponse(entries, p, int64(total)))
}

// HandleSuppressionStats returns aggregate counts of the active ledger.
//
//	GET /api/v1/suppressions/stats
func (h *Handlers) HandleSuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.suppressions.GetStats(r.Context())
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, stats)
}
