package cart

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/domain"
)

func newCart(t *testing.T, handler http.Handler) *Cart {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(backend.NewClient(server.URL, server.Client()), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeBackend is an in-memory rendition of the cart/order endpoints the
// converter talks to.
type fakeBackend struct {
	mu          sync.Mutex
	cart        map[string]int // product id -> quantity
	orders      int
	failRemoval bool // simulate a cart line surviving order creation
	removeCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{cart: map[string]int{}}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"product not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(domain.ProductRef{
			ID: r.PathValue("id"), Name: "Thing", PriceCents: 5000,
		})
	})

	mux.HandleFunc("GET /cart", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		items := []domain.CartItem{}
		for id, qty := range f.cart {
			items = append(items, domain.CartItem{Product: domain.ProductRef{ID: id}, Quantity: qty})
		}
		_ = json.NewEncoder(w).Encode(items)
	})

	mux.HandleFunc("PUT /cart/{productId}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Quantity int `json:"quantity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.cart[r.PathValue("productId")] = req.Quantity
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /cart/{productId}", func(w http.ResponseWriter, r *http.Request) {
		f.removeCalls.Add(1)
		f.mu.Lock()
		delete(f.cart, r.PathValue("productId"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var req backend.CreateOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.cart[req.ProductID]; !ok {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"item not in cart"}`))
			return
		}
		f.orders++
		if !f.failRemoval {
			delete(f.cart, req.ProductID)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Order{
			ID:         "o-1",
			Status:     domain.OrderStatusPending,
			Quantity:   req.Quantity,
			TotalCents: 5000 * int64(req.Quantity),
			Product:    domain.ProductRef{ID: req.ProductID},
		})
	})

	return mux
}

func TestConvert(t *testing.T) {
	t.Run("produces a pending order and removes the cart line", func(t *testing.T) {
		fake := newFakeBackend()
		fake.cart["p-1"] = 2
		c := newCart(t, fake.handler())

		item := domain.CartItem{Product: domain.ProductRef{ID: "p-1"}, Quantity: 2}
		order, err := c.Convert(context.Background(), "tok", item, "")
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected pending order, got %s", order.Status)
		}
		if order.TotalCents != 10000 {
			t.Errorf("expected total 10000, got %d", order.TotalCents)
		}

		items, err := c.Items(context.Background(), "tok")
		if err != nil {
			t.Fatalf("items: %v", err)
		}
		if containsProduct(items, "p-1") {
			t.Error("cart still contains the converted line")
		}
	})

	t.Run("zero quantity is a conflict before any backend call", func(t *testing.T) {
		fake := newFakeBackend()
		c := newCart(t, fake.handler())

		_, err := c.Convert(context.Background(), "tok", domain.CartItem{Product: domain.ProductRef{ID: "p-1"}}, "")
		if !errors.Is(err, domain.ErrCartConflict) {
			t.Errorf("expected ErrCartConflict, got %v", err)
		}
		if fake.orders != 0 {
			t.Error("an order was created for an invalid line")
		}
	})

	t.Run("vanished product is a conflict and the cart is untouched", func(t *testing.T) {
		fake := newFakeBackend()
		fake.cart["gone"] = 1
		c := newCart(t, fake.handler())

		item := domain.CartItem{Product: domain.ProductRef{ID: "gone"}, Quantity: 1}
		_, err := c.Convert(context.Background(), "tok", item, "")
		if !errors.Is(err, domain.ErrCartConflict) {
			t.Fatalf("expected ErrCartConflict, got %v", err)
		}
		if fake.cart["gone"] != 1 {
			t.Error("cart mutated on failed conversion")
		}
	})

	t.Run("item missing from cart surfaces the backend conflict", func(t *testing.T) {
		fake := newFakeBackend()
		c := newCart(t, fake.handler())

		item := domain.CartItem{Product: domain.ProductRef{ID: "p-9"}, Quantity: 1}
		_, err := c.Convert(context.Background(), "tok", item, "")
		if !errors.Is(err, domain.ErrCartConflict) {
			t.Errorf("expected ErrCartConflict, got %v", err)
		}
	})

	t.Run("surviving cart line is removed by reconciliation", func(t *testing.T) {
		fake := newFakeBackend()
		fake.cart["p-1"] = 1
		fake.failRemoval = true
		c := newCart(t, fake.handler())

		item := domain.CartItem{Product: domain.ProductRef{ID: "p-1"}, Quantity: 1}
		order, err := c.Convert(context.Background(), "tok", item, "")
		if err != nil {
			t.Fatalf("expected reconciliation to succeed, got %v", err)
		}
		if order == nil {
			t.Fatal("expected the created order")
		}
		if fake.removeCalls.Load() == 0 {
			t.Error("expected a removal retry")
		}

		fake.mu.Lock()
		_, stillThere := fake.cart["p-1"]
		fake.mu.Unlock()
		if stillThere {
			t.Error("cart line survived reconciliation")
		}
	})
}

func TestUpdate(t *testing.T) {
	t.Run("decrement to zero removes the line", func(t *testing.T) {
		fake := newFakeBackend()
		fake.cart["p-1"] = 3
		c := newCart(t, fake.handler())

		if err := c.Update(context.Background(), "tok", "p-1", 0); err != nil {
			t.Fatalf("update: %v", err)
		}
		fake.mu.Lock()
		_, ok := fake.cart["p-1"]
		fake.mu.Unlock()
		if ok {
			t.Error("expected the line to be removed, not zeroed")
		}
	})

	t.Run("writes to the same item are serialized", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /cart/{productId}", func(w http.ResponseWriter, r *http.Request) {
			n := inFlight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			w.WriteHeader(http.StatusNoContent)
		})
		c := newCart(t, mux)

		var wg sync.WaitGroup
		for i := 1; i <= 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Update(context.Background(), "tok", "p-1", i)
			}()
		}
		wg.Wait()

		if peak.Load() != 1 {
			t.Errorf("expected serialized writes, saw %d in flight", peak.Load())
		}
	})
}
