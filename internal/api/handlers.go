package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/httputil"
	"github.com/ignite/fan-automation/internal/service/decision"
	"github.com/ignite/fan-automation/internal/service/suppression"
)

// VisitorHeader carries the anonymous visitor token on decision queries.
const VisitorHeader = "X-Visitor-Token"

const maxEventBody = 64 << 10

// EventService records and reads behavioral events.
type EventService interface {
	Append(ctx context.Context, e domain.Event) (string, error)
	Query(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
	Counts(ctx context.Context, f domain.CountFilter) ([]domain.BucketCount, error)
}

// DecisionService answers CTA decision queries.
type DecisionService interface {
	Query(ctx context.Context, visitorToken, subjectID string) (decision.Result, error)
}

// SuppressionService manages the suppression ledger.
type SuppressionService interface {
	Suppress(ctx context.Context, recipientID string, reason domain.SuppressionReason, actor string) (bool, error)
	Unsuppress(ctx context.Context, recipientID, actor string, override bool) (int, error)
	Status(ctx context.Context, recipientID string) (domain.SuppressionStatus, error)
	List(ctx context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error)
	GetStats(ctx context.Context) (*suppression.Stats, error)
}

// ActionService exposes scheduled actions to operators.
type ActionService interface {
	Get(ctx context.Context, id string) (domain.ScheduledAction, error)
	List(ctx context.Context, f domain.ActionFilter) ([]domain.ScheduledAction, int, error)
}

// Services groups the collaborators the handlers call into.
type Services struct {
	Events       EventService
	Decisions    DecisionService
	Suppressions SuppressionService
	Actions      ActionService
}

// Handlers contains all HTTP handlers
type Handlers struct {
	events       EventService
	decisions    DecisionService
	suppressions SuppressionService
	actions      ActionService
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc Services) *Handlers {
	return &Handlers{
		events:       svc.Events,
		decisions:    svc.Decisions,
		suppressions: svc.Suppressions,
		actions:      svc.Actions,
	}
}

type eventRequest struct {
	Type         string            `json:"type" validate:"required,event_type"`
	SubjectID    string            `json:"subject_id" validate:"required,max=128"`
	AnonymousID  string            `json:"anonymous_id" validate:"required,max=128"`
	IdentifiedID string            `json:"identified_id" validate:"omitempty,max=320"`
	Timestamp    *time.Time        `json:"timestamp"`
	Attributes   map[string]string `json:"attributes" validate:"max=32"`
}

func (req eventRequest) event() domain.Event {
	e := domain.Event{
		Type:         domain.EventType(req.Type),
		SubjectID:    req.SubjectID,
		AnonymousID:  req.AnonymousID,
		IdentifiedID: req.IdentifiedID,
		Attributes:   req.Attributes,
	}
	if req.Timestamp != nil {
		e.Timestamp = *req.Timestamp
	}
	return e
}

// HandleAppendEvent records one behavioral event.
//
//	POST /api/v1/events
func (h *Handlers) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if httputil.ServiceError(w, validateRequest(req)) {
		return
	}

	id, err := h.events.Append(r.Context(), req.event())
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.Created(w, map[string]string{"event_id": id})
}

// HandleListEvents returns events from the log in append order.
//
//	GET /api/v1/events?subject_id=&anonymous_id=&type=&from=&to=&limit=
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.EventFilter{
		SubjectID:   q.Get("subject_id"),
		AnonymousID: q.Get("anonymous_id"),
		Type:        domain.EventType(q.Get("type")),
	}
	var err error
	if f.From, err = timeParam(r, "from"); httputil.ServiceError(w, err) {
		return
	}
	if f.To, err = timeParam(r, "to"); httputil.ServiceError(w, err) {
		return
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, err = strconv.Atoi(v)
		if err != nil {
			httputil.ServiceError(w, &domain.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
	}

	events, err := h.events.Query(r.Context(), f)
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, map[string]any{"events": events, "count": len(events)})
}

// HandleEventStats returns aggregated event counts for evaluation.
//
//	GET /api/v1/stats/events?from=&to=&bucket=&subject_id=
func (h *Handlers) HandleEventStats(w http.ResponseWriter, r *http.Request) {
	f := domain.CountFilter{
		SubjectID: r.URL.Query().Get("subject_id"),
		Bucket:    domain.BucketSize(r.URL.Query().Get("bucket")),
	}
	var err error
	if f.From, err = timeParam(r, "from"); httputil.ServiceError(w, err) {
		return
	}
	if f.To, err = timeParam(r, "to"); httputil.ServiceError(w, err) {
		return
	}

	counts, err := h.events.Counts(r.Context(), f)
	if httputil.ServiceError(w, err) {
		return
	}
	if counts == nil {
		counts = []domain.BucketCount{}
	}
	httputil.OK(w, map[string]any{"counts": counts})
}

// HandleDecision answers which CTA a visitor should see on a profile.
//
//	GET /api/v1/decisions?subject_id=&visitor=
func (h *Handlers) HandleDecision(w http.ResponseWriter, r *http.Request) {
	visitor := r.Header.Get(VisitorHeader)
	if visitor == "" {
		visitor = r.URL.Query().Get("visitor")
	}
	res, err := h.decisions.Query(r.Context(), visitor, r.URL.Query().Get("subject_id"))
	if httputil.ServiceError(w, err) {
		return
	}
	httputil.OK(w, res)
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: name, Reason: "must be an RFC3339 timestamp"}
	}
	return t.UTC(), nil
}
