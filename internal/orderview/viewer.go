// Package orderview coordinates order reads and actions for one rendering
// surface. It owns the concurrency rules around them: a per-order-id fetch
// guard, a double-submit guard on accept, and optimistic transitions that
// roll back to the last known-good order when the backend refuses.
package orderview

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/domain"
	"github.com/rferrao/tradepost/internal/lifecycle"
)

type Viewer struct {
	client *backend.Client
	logger *slog.Logger

	fetches singleflight.Group

	mu        sync.Mutex
	accepting map[string]struct{}
	known     map[string]domain.Order
}

func NewViewer(client *backend.Client, logger *slog.Logger) *Viewer {
	return &Viewer{
		client:    client,
		logger:    logger,
		accepting: make(map[string]struct{}),
		known:     make(map[string]domain.Order),
	}
}

// Fetch loads one order. In-flight fetches are keyed by order id, not by
// caller, so re-render churn collapses into a single backend call while two
// different orders still fetch independently. A caller whose context ends
// before the fetch returns gets the context error; the underlying read is
// left to finish (it is idempotent) and its result is discarded for that
// caller.
func (v *Viewer) Fetch(ctx context.Context, token, id string) (*domain.Order, error) {
	val, err, _ := v.fetches.Do(id, func() (any, error) {
		order, err := v.client.GetOrderByID(context.WithoutCancel(ctx), token, id)
		if err != nil {
			return nil, err
		}
		v.remember(order)
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	order := *val.(*domain.Order)
	return &order, nil
}

// Accept triggers the seller's acceptance. While a call for the same order
// is in flight, further accepts fail fast with ErrAcceptInFlight; the guard
// clears on terminal success or failure, never before.
func (v *Viewer) Accept(ctx context.Context, token, id string) (*domain.Order, error) {
	v.mu.Lock()
	if _, busy := v.accepting[id]; busy {
		v.mu.Unlock()
		return nil, domain.ErrAcceptInFlight
	}
	v.accepting[id] = struct{}{}
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		delete(v.accepting, id)
		v.mu.Unlock()
	}()

	order, err := v.client.AcceptOrder(ctx, token, id)
	if err != nil {
		return nil, err
	}
	v.remember(order)
	return order, nil
}

// Transition applies a lifecycle change optimistically: the move is
// validated against the canonical table first, then sent to the backend. On
// backend failure the last known-good order is returned alongside the error
// so the caller can revert whatever it showed tentatively.
func (v *Viewer) Transition(ctx context.Context, token, id string, to domain.OrderStatus, actor domain.Relation) (*domain.Order, error) {
	if known, ok := v.snapshot(id); ok {
		tentative := known
		if err := lifecycle.Transition(&tentative, to, actor); err != nil {
			return &known, err
		}
	}

	order, err := v.client.UpdateOrderStatus(ctx, token, id, to)
	if err != nil {
		if known, ok := v.snapshot(id); ok {
			v.logger.Warn("transition failed, reverting to last known-good state",
				"order_id", id, "status", known.Status, "attempted", to, "error", err)
			return &known, err
		}
		return nil, err
	}
	v.remember(order)
	return order, nil
}

// Known returns the last known-good copy of the order, if any.
func (v *Viewer) Known(id string) (*domain.Order, bool) {
	if o, ok := v.snapshot(id); ok {
		return &o, true
	}
	return nil, false
}

func (v *Viewer) remember(o *domain.Order) {
	v.mu.Lock()
	v.known[o.ID] = *o
	v.mu.Unlock()
}

func (v *Viewer) snapshot(id string) (domain.Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.known[id]
	return o, ok
}
