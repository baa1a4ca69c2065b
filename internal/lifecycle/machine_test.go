package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:     "order-1",
		Status: domain.OrderStatusPending,
		Buyer:  domain.ActorRef{ID: "buyer-1"},
		Seller: domain.ActorRef{ID: "seller-1"},
	}
}

func acceptedOrder(t *testing.T) *domain.Order {
	t.Helper()
	o := pendingOrder()
	if err := Accept(o, domain.RelationSeller, time.Now()); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	return o
}

func TestAccept(t *testing.T) {
	t.Run("seller accepts pending order", func(t *testing.T) {
		o := pendingOrder()
		if err := Accept(o, domain.RelationSeller, time.Now()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.AcceptedAt == nil {
			t.Error("expected AcceptedAt to be set")
		}
		if o.Status != domain.OrderStatusPending {
			t.Errorf("accept must not change status, got %s", o.Status)
		}
	})

	t.Run("second accept is rejected and changes nothing", func(t *testing.T) {
		o := acceptedOrder(t)
		first := *o.AcceptedAt

		err := Accept(o, domain.RelationSeller, time.Now().Add(time.Hour))
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if !o.AcceptedAt.Equal(first) {
			t.Error("AcceptedAt changed on rejected accept")
		}
		if o.Status != domain.OrderStatusPending {
			t.Errorf("status changed on rejected accept: %s", o.Status)
		}
	})

	t.Run("only the seller may accept", func(t *testing.T) {
		for _, actor := range []domain.Relation{domain.RelationBuyer, domain.RelationOther, domain.RelationAdmin} {
			o := pendingOrder()
			if err := Accept(o, actor, time.Now()); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("actor %s: expected ErrInvalidTransition, got %v", actor, err)
			}
		}
	})

	t.Run("accept on non-pending order is rejected", func(t *testing.T) {
		o := pendingOrder()
		o.Status = domain.OrderStatusPaid
		if err := Accept(o, domain.RelationSeller, time.Now()); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestTransition(t *testing.T) {
	t.Run("forward path with permitted actors", func(t *testing.T) {
		o := acceptedOrder(t)

		steps := []struct {
			to    domain.OrderStatus
			actor domain.Relation
		}{
			{domain.OrderStatusPaymentSent, domain.RelationBuyer},
			{domain.OrderStatusPaid, domain.RelationSeller},
			{domain.OrderStatusShipped, domain.RelationSeller},
			{domain.OrderStatusCompleted, domain.RelationSystem},
		}
		for _, step := range steps {
			if err := Transition(o, step.to, step.actor); err != nil {
				t.Fatalf("transition to %s by %s: %v", step.to, step.actor, err)
			}
			if o.Status != step.to {
				t.Fatalf("expected status %s, got %s", step.to, o.Status)
			}
		}
	})

	t.Run("payment before acceptance is rejected", func(t *testing.T) {
		o := pendingOrder()
		err := Transition(o, domain.OrderStatusPaymentSent, domain.RelationBuyer)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if o.Status != domain.OrderStatusPending {
			t.Errorf("status changed on rejected transition: %s", o.Status)
		}
	})

	t.Run("skipping a state is rejected, not clamped", func(t *testing.T) {
		o := acceptedOrder(t)
		err := Transition(o, domain.OrderStatusShipped, domain.RelationSeller)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if o.Status != domain.OrderStatusPending {
			t.Errorf("expected status unchanged, got %s", o.Status)
		}
	})

	t.Run("wrong actor is rejected", func(t *testing.T) {
		o := acceptedOrder(t)
		err := Transition(o, domain.OrderStatusPaymentSent, domain.RelationSeller)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("cancellation from every non-terminal state", func(t *testing.T) {
		for _, from := range []domain.OrderStatus{
			domain.OrderStatusPending,
			domain.OrderStatusPaymentSent,
			domain.OrderStatusPaid,
			domain.OrderStatusShipped,
		} {
			for _, actor := range []domain.Relation{domain.RelationBuyer, domain.RelationSeller, domain.RelationAdmin} {
				o := acceptedOrder(t)
				o.Status = from
				if err := Transition(o, domain.OrderStatusCancelled, actor); err != nil {
					t.Errorf("cancel from %s by %s: %v", from, actor, err)
				}
			}
		}
	})

	t.Run("cancelled is absorbing", func(t *testing.T) {
		o := acceptedOrder(t)
		o.Status = domain.OrderStatusCancelled
		for _, to := range []domain.OrderStatus{
			domain.OrderStatusPaymentSent,
			domain.OrderStatusCancelled,
			domain.OrderStatusCompleted,
		} {
			if err := Transition(o, to, domain.RelationAdmin); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("transition out of cancelled to %s: expected ErrInvalidTransition, got %v", to, err)
			}
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		o := acceptedOrder(t)
		o.Status = domain.OrderStatusCompleted
		err := Transition(o, domain.OrderStatusCancelled, domain.RelationAdmin)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("other relation may not cancel", func(t *testing.T) {
		o := acceptedOrder(t)
		err := Transition(o, domain.OrderStatusCancelled, domain.RelationOther)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}
