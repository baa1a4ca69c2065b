// Package cart wraps the per-user cart resource. Writes against the same
// item are serialized through a keyed lock; writes to different items stay
// independent. Checkout lives here too, since converting a cart line into an
// order is coupled to the line's removal.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/domain"
)

type Cart struct {
	client *backend.Client
	logger *slog.Logger
	locks  keyedLocks
}

func New(client *backend.Client, logger *slog.Logger) *Cart {
	return &Cart{
		client: client,
		logger: logger,
	}
}

func (c *Cart) Items(ctx context.Context, token string) ([]domain.CartItem, error) {
	return c.client.GetCart(ctx, token)
}

// Update sets the quantity of one cart line. A quantity of zero or less is
// removal, never a zero-quantity record.
func (c *Cart) Update(ctx context.Context, token, productID string, quantity int) error {
	unlock := c.locks.lock(token + "/" + productID)
	defer unlock()

	if quantity < 1 {
		return c.client.RemoveCartItem(ctx, token, productID)
	}
	return c.client.UpdateCartItem(ctx, token, productID, quantity)
}

func (c *Cart) Remove(ctx context.Context, token, productID string) error {
	unlock := c.locks.lock(token + "/" + productID)
	defer unlock()

	return c.client.RemoveCartItem(ctx, token, productID)
}

func (c *Cart) Clear(ctx context.Context, token string) error {
	return c.client.ClearCart(ctx, token)
}

// Convert turns one cart line into a pending order. The backend creates the
// order and drops the line in one transaction; Convert still verifies the
// removal and reconciles if the line somehow survived, so a successful
// return always means "order exists, line gone". On any failure before the
// order exists the cart is untouched.
func (c *Cart) Convert(ctx context.Context, token string, item domain.CartItem, message string) (*domain.Order, error) {
	if item.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrCartConflict)
	}

	product, err := c.client.GetProduct(ctx, token, item.Product.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %s no longer resolves", domain.ErrCartConflict, item.Product.ID)
		}
		return nil, err
	}

	unlock := c.locks.lock(token + "/" + item.Product.ID)
	defer unlock()

	order, err := c.client.CreateOrder(ctx, token, backend.CreateOrderRequest{
		ProductID: item.Product.ID,
		Quantity:  item.Quantity,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}

	if want := product.PriceCents * int64(item.Quantity); order.TotalCents != want {
		c.logger.Warn("order total differs from cart line price",
			"order_id", order.ID, "total_cents", order.TotalCents, "expected_cents", want)
	}

	if err := c.verifyRemoval(ctx, token, item.Product.ID); err != nil {
		// The order exists; a surviving cart line would mean a duplicate
		// checkout on the next attempt, so this is surfaced, not swallowed.
		return order, fmt.Errorf("%w: order %s created but cart line not removed: %v",
			domain.ErrCartConflict, order.ID, err)
	}

	c.logger.Info("cart line converted to order",
		"order_id", order.ID, "product_id", item.Product.ID, "quantity", item.Quantity)
	return order, nil
}

func (c *Cart) verifyRemoval(ctx context.Context, token, productID string) error {
	items, err := c.client.GetCart(ctx, token)
	if err == nil && !containsProduct(items, productID) {
		return nil
	}

	// Either the check failed or the line is still there: retry the removal
	// once rather than leave the cart out of sync.
	if err := c.client.RemoveCartItem(ctx, token, productID); err != nil {
		return err
	}
	return nil
}

func containsProduct(items []domain.CartItem, productID string) bool {
	return slices.ContainsFunc(items, func(it domain.CartItem) bool {
		return it.Product.ID == productID
	})
}

// keyedLocks hands out one mutex per key, dropping entries when the last
// holder releases them.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*lockEntry)
	}
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
