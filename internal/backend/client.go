// Package backend is the HTTP client for the marketplace service. It owns
// the wire details of the contract the core consumes: token auth, error
// mapping onto the domain taxonomy, and the single automatic retry that is
// allowed for idempotent calls only.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rferrao/tradepost/internal/domain"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		http:    client,
	}
}

type SessionUser struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

type sessionResponse struct {
	User *SessionUser `json:"user"`
}

type CreateOrderRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Message   string `json:"message,omitempty"`
}

// GetSession exchanges a token for the authenticated user, or nil when the
// token is missing, expired, or banned. Only transport failures are errors.
func (c *Client) GetSession(ctx context.Context, token string) (*SessionUser, error) {
	status, body, err := c.do(ctx, token, http.MethodGet, "/session", nil, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, apiError("get session", status, body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return resp.User, nil
}

func (c *Client) GetOrders(ctx context.Context, token, filter string) ([]domain.Order, error) {
	path := "/orders"
	if filter != "" {
		path += "?role=" + url.QueryEscape(filter)
	}
	status, body, err := c.do(ctx, token, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("get orders", status, body)
	}
	var orders []domain.Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

func (c *Client) GetOrderByID(ctx context.Context, token, id string) (*domain.Order, error) {
	status, body, err := c.do(ctx, token, http.MethodGet, "/orders/"+url.PathEscape(id), nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("get order", status, body)
	}
	return decodeOrder(body)
}

// AcceptOrder is idempotent on the backend side (a second accept is refused
// without effect), so it shares the single-retry policy with the fetches.
func (c *Client) AcceptOrder(ctx context.Context, token, id string) (*domain.Order, error) {
	status, body, err := c.do(ctx, token, http.MethodPost, "/orders/"+url.PathEscape(id)+"/accept", nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("accept order", status, body)
	}
	return decodeOrder(body)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, token, id string, to domain.OrderStatus) (*domain.Order, error) {
	req := map[string]domain.OrderStatus{"status": to}
	status, body, err := c.do(ctx, token, http.MethodPost, "/orders/"+url.PathEscape(id)+"/status", req, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("update order status", status, body)
	}
	return decodeOrder(body)
}

func (c *Client) CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (*domain.Order, error) {
	status, body, err := c.do(ctx, token, http.MethodPost, "/orders", req, false)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		// The cart line vanished or changed under us.
		return nil, fmt.Errorf("create order: %w: %s", domain.ErrCartConflict, errMessage(status, body))
	}
	if status != http.StatusCreated {
		return nil, apiError("create order", status, body)
	}
	return decodeOrder(body)
}

func (c *Client) GetCart(ctx context.Context, token string) ([]domain.CartItem, error) {
	status, body, err := c.do(ctx, token, http.MethodGet, "/cart", nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("get cart", status, body)
	}
	var items []domain.CartItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return items, nil
}

func (c *Client) UpdateCartItem(ctx context.Context, token, productID string, quantity int) error {
	req := map[string]int{"quantity": quantity}
	status, body, err := c.do(ctx, token, http.MethodPut, "/cart/"+url.PathEscape(productID), req, false)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return fmt.Errorf("update cart item: %w: %s", domain.ErrCartConflict, errMessage(status, body))
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return apiError("update cart item", status, body)
	}
	return nil
}

func (c *Client) RemoveCartItem(ctx context.Context, token, productID string) error {
	status, body, err := c.do(ctx, token, http.MethodDelete, "/cart/"+url.PathEscape(productID), nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return apiError("remove cart item", status, body)
	}
	return nil
}

func (c *Client) ClearCart(ctx context.Context, token string) error {
	status, body, err := c.do(ctx, token, http.MethodDelete, "/cart", nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return apiError("clear cart", status, body)
	}
	return nil
}

func (c *Client) GetProduct(ctx context.Context, token, id string) (*domain.ProductRef, error) {
	status, body, err := c.do(ctx, token, http.MethodGet, "/products/"+url.PathEscape(id), nil, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("get product", status, body)
	}
	var product domain.ProductRef
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &product, nil
}

func (c *Client) BanUser(ctx context.Context, token, userID string, ban bool) error {
	req := map[string]bool{"ban": ban}
	status, body, err := c.do(ctx, token, http.MethodPost, "/admin/users/"+url.PathEscape(userID)+"/ban", req, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return apiError("ban user", status, body)
	}
	return nil
}

// do performs one request, reading the whole body so the response can be
// decoded or turned into an error by the caller. Idempotent requests are
// retried once on transport failure; mutating requests never are.
func (c *Client) do(ctx context.Context, token, method, path string, payload any, idempotent bool) (int, []byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
	}

	status, body, err := c.attempt(ctx, token, method, path, encoded)
	if err != nil && idempotent && ctx.Err() == nil {
		status, body, err = c.attempt(ctx, token, method, path, encoded)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, errors.Join(domain.ErrNetwork, err))
	}
	return status, body, nil
}

func (c *Client) attempt(ctx context.Context, token, method, path string, encoded []byte) (int, []byte, error) {
	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func decodeOrder(body []byte) (*domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

func errMessage(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.Error == "" {
		return http.StatusText(status)
	}
	return payload.Error
}

// apiError maps backend status codes onto the domain error taxonomy.
func apiError(op string, status int, body []byte) error {
	msg := errMessage(status, body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrInvalidTransition, msg)
	default:
		return fmt.Errorf("%s: backend returned status %d: %s", op, status, msg)
	}
}
