package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusPaymentSent OrderStatus = "payment_sent"
	OrderStatusPaid        OrderStatus = "paid"
	OrderStatusShipped     OrderStatus = "shipped"
	OrderStatusCompleted   OrderStatus = "completed"
	OrderStatusCancelled   OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentSent, OrderStatusPaid,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// ActorRef identifies one side of an order. Contact is only present on
// expanded profiles and is subject to visibility redaction.
type ActorRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

type ProductRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PriceCents  int64  `json:"price_cents"`
}

type DeliveryInfo struct {
	Address      string `json:"address"`
	Carrier      string `json:"carrier,omitempty"`
	TrackingCode string `json:"tracking_code,omitempty"`
}

type PaymentProof struct {
	Reference   string    `json:"reference"`
	Note        string    `json:"note,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Order struct {
	ID           string        `json:"id"`
	Status       OrderStatus   `json:"status"`
	Buyer        ActorRef      `json:"buyer"`
	Seller       ActorRef      `json:"seller"`
	Product      ProductRef    `json:"product"`
	Quantity     int           `json:"quantity"`
	TotalCents   int64         `json:"total_cents"`
	Message      string        `json:"message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	AcceptedAt   *time.Time    `json:"accepted_at,omitempty"`
	DeliveryInfo *DeliveryInfo `json:"delivery_info,omitempty"`
	PaymentProof *PaymentProof `json:"payment_proof,omitempty"`
}

// Accepted reports whether the seller has acted on the order. Any status
// past pending implies acceptance.
func (o *Order) Accepted() bool {
	return o.Status != OrderStatusPending || o.AcceptedAt != nil
}

// Relation is a viewer's relationship to a specific order. It is computed
// per request and never stored.
type Relation string

const (
	RelationBuyer     Relation = "buyer"
	RelationSeller    Relation = "seller"
	RelationOther     Relation = "other"
	RelationModerator Relation = "moderator"
	RelationAdmin     Relation = "admin"
	// RelationSystem is the automated delivery confirmation actor.
	RelationSystem Relation = "system"
)

func RelationOf(o *Order, viewerID string, role Role) Relation {
	switch role {
	case RoleAdmin:
		return RelationAdmin
	case RoleModerator:
		return RelationModerator
	}
	switch viewerID {
	case o.Buyer.ID:
		return RelationBuyer
	case o.Seller.ID:
		return RelationSeller
	}
	return RelationOther
}

// Staff reports whether the relation carries moderation privileges.
func (r Relation) Staff() bool {
	return r == RelationModerator || r == RelationAdmin
}
