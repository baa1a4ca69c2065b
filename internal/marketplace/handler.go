// Package marketplace is the stateful service the client core talks to. It
// owns users, sessions, listings, carts, and orders in Postgres, enforces the
// transition table server-side, and emits an event per committed status
// change.
package marketplace

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
	"github.com/rferrao/tradepost/internal/lifecycle"
	"github.com/rferrao/tradepost/internal/messaging"
)

type Handler struct {
	users         *UserRepository
	products      *ProductRepository
	carts         *CartRepository
	orders        *OrderRepository
	producer      *messaging.Producer
	logger        *slog.Logger
	internalToken string
}

func NewHandler(users *UserRepository, products *ProductRepository, carts *CartRepository, orders *OrderRepository, producer *messaging.Producer, logger *slog.Logger, internalToken string) *Handler {
	return &Handler{
		users:         users,
		products:      products,
		carts:         carts,
		orders:        orders,
		producer:      producer,
		logger:        logger,
		internalToken: internalToken,
	}
}

func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", h.HandleSession)
	mux.HandleFunc("GET /products/{id}", h.HandleGetProduct)
	mux.HandleFunc("GET /cart", h.HandleGetCart)
	mux.HandleFunc("PUT /cart/{productId}", h.HandleCartUpsert)
	mux.HandleFunc("DELETE /cart/{productId}", h.HandleCartRemove)
	mux.HandleFunc("DELETE /cart", h.HandleCartClear)
	mux.HandleFunc("POST /orders", h.HandleCreateOrder)
	mux.HandleFunc("GET /orders", h.HandleListOrders)
	mux.HandleFunc("GET /orders/{id}", h.HandleGetOrder)
	mux.HandleFunc("POST /orders/{id}/accept", h.HandleAcceptOrder)
	mux.HandleFunc("POST /orders/{id}/status", h.HandleUpdateStatus)
	mux.HandleFunc("POST /admin/users/{id}/ban", h.HandleBanUser)
	mux.HandleFunc("POST /internal/orders/{id}/complete", h.HandleInternalComplete)
	return mux
}

// authenticate resolves the bearer token. nil user means the caller gets 401.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) *User {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		h.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}

	user, err := h.users.GetBySessionToken(r.Context(), token)
	if err != nil {
		h.logger.Error("failed to resolve session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if user == nil {
		h.writeError(w, http.StatusUnauthorized, "invalid session")
		return nil
	}
	return user
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]*User{"user": user})
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	product, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("failed to get product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product.Ref())
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	items, err := h.carts.Items(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list cart", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

type cartUpsertRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleCartUpsert(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	var req cartUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 1 {
		h.writeError(w, http.StatusConflict, "quantity must be at least 1")
		return
	}

	productID := r.PathValue("productId")
	product, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusConflict, "product no longer exists")
		return
	}

	if err := h.carts.Upsert(r.Context(), user.ID, productID, req.Quantity); err != nil {
		h.logger.Error("failed to upsert cart item", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item set", "user_id", user.ID, "product_id", productID, "quantity", req.Quantity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCartRemove(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	removed, err := h.carts.Remove(r.Context(), user.ID, r.PathValue("productId"))
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "cart item not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCartClear(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	if err := h.carts.Clear(r.Context(), user.ID); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createOrderRequest struct {
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Message         string `json:"message,omitempty"`
	DeliveryAddress string `json:"delivery_address,omitempty"`
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 1 {
		h.writeError(w, http.StatusConflict, "quantity must be at least 1")
		return
	}

	product, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil {
		h.logger.Error("failed to get product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusConflict, "product no longer exists")
		return
	}

	seller, err := h.users.GetByID(r.Context(), product.SellerID)
	if err != nil || seller == nil {
		h.logger.Error("failed to get seller", "error", err, "seller_id", product.SellerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	order, err := h.orders.CreateFromCart(r.Context(), user, seller, product, req.Quantity, req.Message, req.DeliveryAddress)
	if err != nil {
		if errors.Is(err, domain.ErrCartConflict) {
			h.writeError(w, http.StatusConflict, "cart changed underneath the checkout")
			return
		}
		h.logger.Error("failed to create order", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "buyer_id", user.ID, "product_id", product.ID)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	orders, err := h.orders.ListForViewer(r.Context(), user, r.URL.Query().Get("role"))
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	order, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("failed to get order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	order, err := h.orders.Accept(r.Context(), r.PathValue("id"), user.ID, time.Now().UTC())
	if err != nil {
		h.writeOrderError(w, "accept order", err)
		return
	}

	h.logger.Info("order accepted", "order_id", order.ID, "seller_id", user.ID)
	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status       domain.OrderStatus   `json:"status"`
	PaymentProof *domain.PaymentProof `json:"payment_proof,omitempty"`
	DeliveryInfo *domain.DeliveryInfo `json:"delivery_info,omitempty"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := func(o *domain.Order) domain.Relation {
		return domain.RelationOf(o, user.ID, user.Role)
	}
	h.transition(w, r, r.PathValue("id"), req.Status, actor, &StatusAttachment{
		PaymentProof: req.PaymentProof,
		DeliveryInfo: req.DeliveryInfo,
	})
}

// HandleInternalComplete is the delivery-confirmation hook. It is not part of
// the public surface: callers authenticate with the shared internal token and
// act as the system relation, which may only drive shipped -> completed.
func (h *Handler) HandleInternalComplete(w http.ResponseWriter, r *http.Request) {
	if h.internalToken == "" || r.Header.Get("X-Internal-Token") != h.internalToken {
		h.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	actor := func(*domain.Order) domain.Relation { return domain.RelationSystem }
	h.transition(w, r, r.PathValue("id"), domain.OrderStatusCompleted, actor, nil)
}

// transition validates the move against the current row, then applies it with
// a compare-and-swap so a concurrent writer loses cleanly instead of racing.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, id string, to domain.OrderStatus, actorOf func(*domain.Order) domain.Relation, attach *StatusAttachment) {
	current, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if current == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	actor := actorOf(current)
	from := current.Status
	if err := lifecycle.Transition(current, to, actor); err != nil {
		h.writeOrderError(w, "order transition", err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), id, from, to, attach)
	if err != nil {
		h.writeOrderError(w, "order transition", err)
		return
	}

	if h.producer != nil {
		event := domain.OrderStatusChangedEvent{
			OrderID:   order.ID,
			OldStatus: from,
			NewStatus: order.Status,
			Timestamp: time.Now().UTC(),
		}
		if err := h.producer.Publish(r.Context(), order.ID, event); err != nil {
			h.logger.Error("failed to publish status event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("order status updated", "order_id", order.ID, "from", from, "to", order.Status, "actor", actor)
	h.writeJSON(w, http.StatusOK, order)
}

type banRequest struct {
	Ban bool `json:"ban"`
}

func (h *Handler) HandleBanUser(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}
	if user.Role != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	targetID := r.PathValue("id")
	if err := h.users.SetBanned(r.Context(), targetID, req.Ban); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to update ban", "error", err, "user_id", targetID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user ban updated", "user_id", targetID, "banned", req.Ban, "admin_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeOrderError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
