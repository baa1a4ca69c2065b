// Package visibility derives the subset of an order a given viewer may see.
// The projection is recomputed from (status, acceptance, relation) on every
// call; nothing here is cached on the order, so a stale view can never leak
// pre-acceptance data.
package visibility

import (
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

type ActorView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

type ProductView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PriceCents  *int64 `json:"price_cents,omitempty"`
}

// OrderView is the partial order returned to the View Layer. Absent fields
// are redacted, not empty.
type OrderView struct {
	ID           string               `json:"id"`
	Status       domain.OrderStatus   `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	AcceptedAt   *time.Time           `json:"accepted_at,omitempty"`
	Buyer        ActorView            `json:"buyer"`
	Seller       ActorView            `json:"seller"`
	Product      ProductView          `json:"product"`
	Quantity     int                  `json:"quantity"`
	TotalCents   *int64               `json:"total_cents,omitempty"`
	Message      string               `json:"message,omitempty"`
	DeliveryInfo *domain.DeliveryInfo `json:"delivery_info,omitempty"`
	PaymentProof *domain.PaymentProof `json:"payment_proof,omitempty"`
}

// Project redacts order fields for the given viewer relation.
//
// Until the seller accepts, buyer and seller both see only the order id,
// status, timestamps, product name and quantity. Acceptance unlocks the full
// projection for both parties. An unrelated viewer never receives contact
// fields, delivery info, or payment proof, whatever the status. Staff sees
// everything.
func Project(o *domain.Order, rel domain.Relation) OrderView {
	view := OrderView{
		ID:         o.ID,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		AcceptedAt: o.AcceptedAt,
		Buyer:      ActorView{ID: o.Buyer.ID, DisplayName: o.Buyer.DisplayName},
		Seller:     ActorView{ID: o.Seller.ID, DisplayName: o.Seller.DisplayName},
		Product:    ProductView{ID: o.Product.ID, Name: o.Product.Name},
		Quantity:   o.Quantity,
	}

	if rel.Staff() {
		return full(o, view)
	}

	switch rel {
	case domain.RelationBuyer, domain.RelationSeller:
		if !o.Accepted() {
			return view
		}
		return full(o, view)
	default:
		// Unrelated viewers get the public shell only.
		return view
	}
}

func full(o *domain.Order, view OrderView) OrderView {
	price := o.Product.PriceCents
	total := o.TotalCents
	view.Product.Description = o.Product.Description
	view.Product.ImageURL = o.Product.ImageURL
	view.Product.PriceCents = &price
	view.TotalCents = &total
	view.Message = o.Message
	view.DeliveryInfo = o.DeliveryInfo
	view.PaymentProof = o.PaymentProof
	view.Buyer.Contact = o.Buyer.Contact
	view.Seller.Contact = o.Seller.Contact
	return view
}
