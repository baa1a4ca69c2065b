// Package gateway is the HTTP surface the View Layer talks to. Handlers
// resolve the session, ask the policies for a decision or a projection, and
// render whatever comes back; no screen-side branching duplicates the rules.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/cart"
	"github.com/rferrao/tradepost/internal/domain"
	"github.com/rferrao/tradepost/internal/orderview"
	"github.com/rferrao/tradepost/internal/routing"
	"github.com/rferrao/tradepost/internal/session"
	"github.com/rferrao/tradepost/internal/visibility"
)

type Handler struct {
	gate   *session.Gate
	cart   *cart.Cart
	viewer *orderview.Viewer
	client *backend.Client
	logger *slog.Logger
}

func NewHandler(gate *session.Gate, c *cart.Cart, viewer *orderview.Viewer, client *backend.Client, logger *slog.Logger) *Handler {
	return &Handler{
		gate:   gate,
		cart:   c,
		viewer: viewer,
		client: client,
		logger: logger,
	}
}

// Mux returns the gateway's route surface.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", h.HandleSession)
	mux.HandleFunc("POST /session/refresh", h.HandleSessionRefresh)
	mux.HandleFunc("POST /session/signout", h.HandleSignOut)
	mux.HandleFunc("GET /routes/decision", h.HandleRouteDecision)
	mux.HandleFunc("GET /orders", h.HandleListOrders)
	mux.HandleFunc("GET /orders/{id}", h.HandleGetOrder)
	mux.HandleFunc("POST /orders/{id}/accept", h.HandleAcceptOrder)
	mux.HandleFunc("POST /orders/{id}/status", h.HandleOrderTransition)
	mux.HandleFunc("GET /cart", h.HandleGetCart)
	mux.HandleFunc("PUT /cart/{productId}", h.HandleCartUpdate)
	mux.HandleFunc("DELETE /cart/{productId}", h.HandleCartRemove)
	mux.HandleFunc("DELETE /cart", h.HandleCartClear)
	mux.HandleFunc("POST /checkout", h.HandleCheckout)
	mux.HandleFunc("POST /admin/users/{id}/ban", h.HandleBanUser)
	return mux
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	s := h.gate.Resolve(r.Context(), bearerToken(r))
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) HandleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	s := h.gate.Refresh(r.Context(), bearerToken(r))
	h.logger.Info("session refreshed", "state", s.State)
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	h.gate.SignOut(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRouteDecision(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.writeError(w, http.StatusBadRequest, "missing path parameter")
		return
	}

	s := h.gate.Resolve(r.Context(), bearerToken(r))
	decision := routing.Decide(path, s)

	h.logger.Info("route decided", "path", path, "kind", decision.Kind, "target", decision.Target)
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	orders, err := h.client.GetOrders(r.Context(), token, r.URL.Query().Get("role"))
	if err != nil {
		h.writeDomainError(w, "list orders", err)
		return
	}

	views := make([]visibility.OrderView, 0, len(orders))
	for i := range orders {
		rel := domain.RelationOf(&orders[i], s.UserID, s.Role)
		views = append(views, visibility.Project(&orders[i], rel))
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	order, err := h.viewer.Fetch(r.Context(), token, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, "get order", err)
		return
	}

	rel := domain.RelationOf(order, s.UserID, s.Role)
	h.writeJSON(w, http.StatusOK, visibility.Project(order, rel))
}

func (h *Handler) HandleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	order, err := h.viewer.Accept(r.Context(), token, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, "accept order", err)
		return
	}

	h.logger.Info("order accepted", "order_id", order.ID)
	rel := domain.RelationOf(order, s.UserID, s.Role)
	h.writeJSON(w, http.StatusOK, visibility.Project(order, rel))
}

type transitionRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleOrderTransition(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	current, err := h.viewer.Fetch(r.Context(), token, id)
	if err != nil {
		h.writeDomainError(w, "fetch order for transition", err)
		return
	}

	rel := domain.RelationOf(current, s.UserID, s.Role)
	order, err := h.viewer.Transition(r.Context(), token, id, req.Status, rel)
	if err != nil {
		h.writeDomainError(w, "order transition", err)
		return
	}

	h.logger.Info("order transitioned", "order_id", order.ID, "status", order.Status, "actor", rel)
	h.writeJSON(w, http.StatusOK, visibility.Project(order, rel))
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	token, _, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	items, err := h.cart.Items(r.Context(), token)
	if err != nil {
		h.writeDomainError(w, "get cart", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

type cartUpdateRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleCartUpdate(w http.ResponseWriter, r *http.Request) {
	token, _, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req cartUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.cart.Update(r.Context(), token, r.PathValue("productId"), req.Quantity); err != nil {
		h.writeDomainError(w, "update cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCartRemove(w http.ResponseWriter, r *http.Request) {
	token, _, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	if err := h.cart.Remove(r.Context(), token, r.PathValue("productId")); err != nil {
		h.writeDomainError(w, "remove cart item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCartClear(w http.ResponseWriter, r *http.Request) {
	token, _, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	if err := h.cart.Clear(r.Context(), token); err != nil {
		h.writeDomainError(w, "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	ProductID string `json:"product_id"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items, err := h.cart.Items(r.Context(), token)
	if err != nil {
		h.writeDomainError(w, "checkout", err)
		return
	}

	var line *domain.CartItem
	for i := range items {
		if items[i].Product.ID == req.ProductID {
			line = &items[i]
			break
		}
	}
	if line == nil {
		h.writeError(w, http.StatusConflict, "item not in cart")
		return
	}

	order, err := h.cart.Convert(r.Context(), token, *line, req.Message)
	if err != nil {
		h.writeDomainError(w, "checkout", err)
		return
	}

	h.logger.Info("checkout complete", "order_id", order.ID, "product_id", req.ProductID)
	rel := domain.RelationOf(order, s.UserID, s.Role)
	h.writeJSON(w, http.StatusCreated, visibility.Project(order, rel))
}

type banRequest struct {
	Ban bool `json:"ban"`
}

func (h *Handler) HandleBanUser(w http.ResponseWriter, r *http.Request) {
	token, s, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	if s.Role != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := r.PathValue("id")
	if err := h.client.BanUser(r.Context(), token, userID, req.Ban); err != nil {
		h.writeDomainError(w, "ban user", err)
		return
	}

	h.logger.Info("user ban updated", "user_id", userID, "banned", req.Ban)
	w.WriteHeader(http.StatusNoContent)
}

// authenticated resolves the request's session and rejects the request when
// it is not authenticated. A loading state cannot happen here: Resolve
// blocks until the exchange is done.
func (h *Handler) authenticated(w http.ResponseWriter, r *http.Request) (string, domain.Session, bool) {
	token := bearerToken(r)
	s := h.gate.Resolve(r.Context(), token)
	if !s.Authenticated() {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", s, false
	}
	return token, s, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrAcceptInFlight):
		h.writeError(w, http.StatusConflict, "accept already in flight")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrCartConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNetwork):
		h.logger.Error("backend unavailable", "op", op, "error", err)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
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
