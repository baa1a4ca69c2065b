// Package lifecycle holds the canonical order transition table. Every place
// that changes or validates an order status goes through it, so the legal
// path and the actor gating exist exactly once.
package lifecycle

import (
	"fmt"
	"slices"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

// next is the single forward path. Cancellation is handled separately: it is
// reachable from every non-terminal state and absorbing.
var next = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:     domain.OrderStatusPaymentSent,
	domain.OrderStatusPaymentSent: domain.OrderStatusPaid,
	domain.OrderStatusPaid:        domain.OrderStatusShipped,
	domain.OrderStatusShipped:     domain.OrderStatusCompleted,
}

// triggers maps each forward target status to the relations allowed to
// trigger the move into it.
var triggers = map[domain.OrderStatus][]domain.Relation{
	domain.OrderStatusPaymentSent: {domain.RelationBuyer},
	domain.OrderStatusPaid:        {domain.RelationSeller},
	domain.OrderStatusShipped:     {domain.RelationSeller},
	domain.OrderStatusCompleted:   {domain.RelationSeller, domain.RelationSystem},
}

var cancelTriggers = []domain.Relation{
	domain.RelationBuyer,
	domain.RelationSeller,
	domain.RelationAdmin,
}

func CanTransition(from, to domain.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.OrderStatusCancelled {
		return true
	}
	return next[from] == to
}

// Allowed reports whether actor may trigger from -> to, independent of any
// particular order.
func Allowed(from, to domain.OrderStatus, actor domain.Relation) bool {
	if !CanTransition(from, to) {
		return false
	}
	if to == domain.OrderStatusCancelled {
		return slices.Contains(cancelTriggers, actor)
	}
	return slices.Contains(triggers[to], actor)
}

// Accept records the seller's acceptance of a pending order. Status does not
// change; AcceptedAt is set, which unlocks visibility and the buyer-facing
// payment flow. Accepting a non-pending or already-accepted order fails and
// leaves the order untouched.
func Accept(o *domain.Order, actor domain.Relation, now time.Time) error {
	if actor != domain.RelationSeller {
		return fmt.Errorf("%w: accept requires the seller, got %s", domain.ErrInvalidTransition, actor)
	}
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: accept on %s order", domain.ErrInvalidTransition, o.Status)
	}
	if o.AcceptedAt != nil {
		return fmt.Errorf("%w: order already accepted", domain.ErrInvalidTransition)
	}
	t := now.UTC()
	o.AcceptedAt = &t
	return nil
}

// Transition moves the order to the target status if the current status
// lists it and the actor may trigger it. On rejection the order is
// unchanged.
func Transition(o *domain.Order, to domain.OrderStatus, actor domain.Relation) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, o.Status, to)
	}
	if to == domain.OrderStatusPaymentSent && !o.Accepted() {
		return fmt.Errorf("%w: payment before seller acceptance", domain.ErrInvalidTransition)
	}
	if !Allowed(o.Status, to, actor) {
		return fmt.Errorf("%w: %s may not trigger %s -> %s", domain.ErrInvalidTransition, actor, o.Status, to)
	}
	o.Status = to
	return nil
}
