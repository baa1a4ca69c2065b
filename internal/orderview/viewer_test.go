package orderview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/domain"
)

func newViewer(t *testing.T, handler http.HandlerFunc) *Viewer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := backend.NewClient(server.URL, server.Client())
	return NewViewer(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeOrder(w http.ResponseWriter, o domain.Order) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(o)
}

func TestFetchGuard(t *testing.T) {
	t.Run("concurrent fetches for one order collapse into a single call", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			<-release
			writeOrder(w, domain.Order{ID: path.Base(r.URL.Path), Status: domain.OrderStatusPending})
		})

		const workers = 6
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := viewer.Fetch(context.Background(), "tok", "o-1"); err != nil {
					t.Errorf("fetch failed: %v", err)
				}
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		if calls.Load() != 1 {
			t.Errorf("expected 1 backend call, got %d", calls.Load())
		}
	})

	t.Run("different order ids fetch independently", func(t *testing.T) {
		var calls atomic.Int32
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeOrder(w, domain.Order{ID: path.Base(r.URL.Path), Status: domain.OrderStatusPending})
		})

		a, err := viewer.Fetch(context.Background(), "tok", "o-1")
		if err != nil {
			t.Fatalf("fetch o-1: %v", err)
		}
		b, err := viewer.Fetch(context.Background(), "tok", "o-2")
		if err != nil {
			t.Fatalf("fetch o-2: %v", err)
		}
		if a.ID != "o-1" || b.ID != "o-2" {
			t.Errorf("guard suppressed an independent fetch: %s, %s", a.ID, b.ID)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 backend calls, got %d", calls.Load())
		}
	})

	t.Run("caller gone before the result arrives gets a context error", func(t *testing.T) {
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			writeOrder(w, domain.Order{ID: "o-1"})
		})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		if _, err := viewer.Fetch(ctx, "tok", "o-1"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestAcceptGuard(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		at := time.Now().UTC()
		writeOrder(w, domain.Order{ID: "o-1", Status: domain.OrderStatusPending, AcceptedAt: &at})
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := viewer.Accept(context.Background(), "tok", "o-1")
		firstDone <- err
	}()

	// Wait until the first accept is actually in flight.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := viewer.Accept(context.Background(), "tok", "o-1"); !errors.Is(err, domain.ErrAcceptInFlight) {
		t.Errorf("duplicate accept: expected ErrAcceptInFlight, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 backend call, got %d", calls.Load())
	}

	// The guard clears once the first call is terminal.
	if _, err := viewer.Accept(context.Background(), "tok", "o-1"); err != nil {
		t.Errorf("accept after guard cleared: %v", err)
	}
}

func TestTransitionOptimistic(t *testing.T) {
	t.Run("backend failure rolls back to last known-good state", func(t *testing.T) {
		at := time.Now().UTC()
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				writeOrder(w, domain.Order{ID: "o-1", Status: domain.OrderStatusPending, AcceptedAt: &at})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"state changed on the backend"}`))
		})

		if _, err := viewer.Fetch(context.Background(), "tok", "o-1"); err != nil {
			t.Fatalf("fetch: %v", err)
		}

		order, err := viewer.Transition(context.Background(), "tok", "o-1", domain.OrderStatusPaymentSent, domain.RelationBuyer)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if order == nil || order.Status != domain.OrderStatusPending {
			t.Errorf("expected rollback to pending, got %+v", order)
		}
	})

	t.Run("locally illegal transition never reaches the backend", func(t *testing.T) {
		var mutations atomic.Int32
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				mutations.Add(1)
			}
			writeOrder(w, domain.Order{ID: "o-1", Status: domain.OrderStatusPending})
		})

		if _, err := viewer.Fetch(context.Background(), "tok", "o-1"); err != nil {
			t.Fatalf("fetch: %v", err)
		}

		// Unaccepted pending order: payment is not unlocked yet.
		_, err := viewer.Transition(context.Background(), "tok", "o-1", domain.OrderStatusPaymentSent, domain.RelationBuyer)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if mutations.Load() != 0 {
			t.Errorf("illegal transition reached the backend %d times", mutations.Load())
		}
	})

	t.Run("successful transition updates the known-good state", func(t *testing.T) {
		at := time.Now().UTC()
		viewer := newViewer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				writeOrder(w, domain.Order{ID: "o-1", Status: domain.OrderStatusPending, AcceptedAt: &at})
				return
			}
			writeOrder(w, domain.Order{ID: "o-1", Status: domain.OrderStatusPaymentSent, AcceptedAt: &at})
		})

		if _, err := viewer.Fetch(context.Background(), "tok", "o-1"); err != nil {
			t.Fatalf("fetch: %v", err)
		}

		order, err := viewer.Transition(context.Background(), "tok", "o-1", domain.OrderStatusPaymentSent, domain.RelationBuyer)
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if order.Status != domain.OrderStatusPaymentSent {
			t.Errorf("unexpected status: %s", order.Status)
		}
		if known, ok := viewer.Known("o-1"); !ok || known.Status != domain.OrderStatusPaymentSent {
			t.Errorf("known-good state not updated: %+v", known)
		}
	})
}
