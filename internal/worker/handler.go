// Package worker implements the automated delivery confirmation actor. It
// consumes order status events and, once a shipped order's confirmation
// window elapses, completes it through the marketplace's internal endpoint.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

type DeliveryConfirmer struct {
	marketplaceURL string
	internalToken  string
	confirmAfter   time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

func NewDeliveryConfirmer(marketplaceURL, internalToken string, confirmAfter time.Duration, client *http.Client, logger *slog.Logger) *DeliveryConfirmer {
	return &DeliveryConfirmer{
		marketplaceURL: marketplaceURL,
		internalToken:  internalToken,
		confirmAfter:   confirmAfter,
		httpClient:     client,
		logger:         logger,
	}
}

// Handle processes one status event. Only shipped transitions are acted on;
// everything else is an ack. Completion conflicts are fine: the order was
// cancelled or already completed by a human in the meantime.
func (h *DeliveryConfirmer) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal status event: %w", err)
	}

	if event.NewStatus != domain.OrderStatusShipped {
		return nil
	}

	h.logger.Info("scheduling delivery confirmation", "order_id", event.OrderID, "after", h.confirmAfter)

	if h.confirmAfter > 0 {
		timer := time.NewTimer(h.confirmAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := h.completeOrder(ctx, event.OrderID); err != nil {
		h.logger.Error("failed to confirm delivery", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("confirm delivery for order %s: %w", event.OrderID, err)
	}

	h.logger.Info("delivery confirmed", "order_id", event.OrderID)
	return nil
}

func (h *DeliveryConfirmer) completeOrder(ctx context.Context, orderID string) error {
	url := fmt.Sprintf("%s/internal/orders/%s/complete", h.marketplaceURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-Token", h.internalToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict, http.StatusNotFound:
		// The order moved on without us (cancelled, manually completed, or
		// deleted). Nothing to retry.
		h.logger.Info("skipping completion", "order_id", orderID, "status", resp.StatusCode)
		return nil
	default:
		return fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}
}
