package domain

// CartItem is one line in a user's cart, uniquely keyed by product id.
// Quantity is always >= 1; decrementing to zero removes the line.
type CartItem struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}
