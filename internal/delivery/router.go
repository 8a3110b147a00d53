// Package delivery sends follow-up messages for scheduled actions.
//
// Router dispatches by action type to a channel-specific Deliverer. An
// action type with no route fails permanently with domain.ErrUnknownActionType.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/fan-automation/internal/domain"
)

// Deliverer sends one message for an action.
type Deliverer interface {
	Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, recipientID, actionType string, payload map[string]string) error

func (f DelivererFunc) Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error {
	return f(ctx, recipientID, actionType, payload)
}

// Router implements scheduler.Deliverer.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Deliverer
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Deliverer)}
}

// Handle routes actionType to d, replacing any previous route.
func (r *Router) Handle(actionType string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[actionType] = d
}

func (r *Router) Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error {
	r.mu.RLock()
	d, ok := r.routes[actionType]
	r.mu.RUnlock()
	if !ok {
		return &domain.DeliveryFailure{Provider: "router", Err: fmt.Errorf("%w: %s", domain.ErrUnknownActionType, actionType)}
	}
	return d.Send(ctx, recipientID, actionType, payload)
}
