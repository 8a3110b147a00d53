package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/httputil"
)

// HandleListActions pages through scheduled actions, optionally by status.
// Operators use it to find failed follow-ups.
//
//	GET /api/v1/actions?status=&page=&limit=
func (h *Handlers) HandleListActions(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 500)
	status := domain.ActionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httputil.ServiceError(w, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)})
		return
	}

	actions, total, err := h.actions.List(r.Context(), domain.ActionFilter{Status: status, Limit: p.Limit, Offset: p.Offset})
	if httputil.ServiceError(w, err) {
		return
	}
	if actions == nil {
		actions = []domain.ScheduledAction{}
	}
	httputil.OK(w, NewPaginatedResponse(actions, p, int64(total)))
}

// HandleGetAction returns one scheduled action.
//
//	GET /api/v1/actions/{id}
func (h *Handlers) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.actions.Get(r.Context(), chi.URLParam(r, "id"))
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, a)
}
