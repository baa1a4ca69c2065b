package marketplace

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rferrao/tradepost/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	o.id, o.status, o.quantity, o.total_cents, o.message, o.created_at, o.accepted_at,
	o.product_id, o.product_name, o.product_description, o.product_image_url, o.product_price_cents,
	o.delivery_address, o.delivery_carrier, o.delivery_tracking_code,
	o.payment_reference, o.payment_note, o.payment_submitted_at,
	b.id, b.display_name, b.contact,
	s.id, s.display_name, s.contact`

const orderJoins = `
	FROM orders o
	JOIN users b ON b.id = o.buyer_id
	JOIN users s ON s.id = o.seller_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		deliveryAddress, deliveryCarrier, deliveryTracking sql.NullString
		paymentReference, paymentNote                      sql.NullString
		paymentSubmittedAt                                 sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.Status, &order.Quantity, &order.TotalCents, &order.Message,
		&order.CreatedAt, &order.AcceptedAt,
		&order.Product.ID, &order.Product.Name, &order.Product.Description,
		&order.Product.ImageURL, &order.Product.PriceCents,
		&deliveryAddress, &deliveryCarrier, &deliveryTracking,
		&paymentReference, &paymentNote, &paymentSubmittedAt,
		&order.Buyer.ID, &order.Buyer.DisplayName, &order.Buyer.Contact,
		&order.Seller.ID, &order.Seller.DisplayName, &order.Seller.Contact,
	)
	if err != nil {
		return nil, err
	}

	if deliveryAddress.Valid {
		order.DeliveryInfo = &domain.DeliveryInfo{
			Address:      deliveryAddress.String,
			Carrier:      deliveryCarrier.String,
			TrackingCode: deliveryTracking.String,
		}
	}
	if paymentReference.Valid {
		order.PaymentProof = &domain.PaymentProof{
			Reference:   paymentReference.String,
			Note:        paymentNote.String,
			SubmittedAt: paymentSubmittedAt.Time,
		}
	}

	return order, nil
}

// CreateFromCart atomically converts one cart line into a pending order. The
// cart line's stored quantity is authoritative: the delete and the insert
// share a transaction, so a lost cart line aborts the whole conversion with
// ErrCartConflict and a concurrent quantity change surfaces the same way.
func (r *OrderRepository) CreateFromCart(ctx context.Context, buyer *User, seller *User, product *Product, quantity int, message, deliveryAddress string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var storedQuantity int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2
		RETURNING quantity
	`, buyer.ID, product.ID).Scan(&storedQuantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrCartConflict
		}
		return nil, err
	}
	if storedQuantity != quantity {
		return nil, domain.ErrCartConflict
	}

	id := uuid.New().String()
	createdAt := time.Now().UTC()
	totalCents := product.PriceCents * int64(storedQuantity)

	var address any
	if deliveryAddress != "" {
		address = deliveryAddress
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, product_id,
			product_name, product_description, product_image_url, product_price_cents,
			quantity, total_cents, status, message, delivery_address, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, id, buyer.ID, seller.ID, product.ID,
		product.Name, product.Description, product.ImageURL, product.PriceCents,
		storedQuantity, totalCents, domain.OrderStatusPending, message, address, createdAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:         id,
		Status:     domain.OrderStatusPending,
		Buyer:      domain.ActorRef{ID: buyer.ID, DisplayName: buyer.DisplayName, Contact: buyer.Contact},
		Seller:     domain.ActorRef{ID: seller.ID, DisplayName: seller.DisplayName, Contact: seller.Contact},
		Product:    product.Ref(),
		Quantity:   storedQuantity,
		TotalCents: totalCents,
		Message:    message,
		CreatedAt:  createdAt,
	}
	if deliveryAddress != "" {
		order.DeliveryInfo = &domain.DeliveryInfo{Address: deliveryAddress}
	}
	return order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT`+orderColumns+orderJoins+` WHERE o.id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// ListForViewer returns the orders the viewer participates in, newest first.
// Staff sees every order. sideFilter narrows a regular user's list to the
// side they asked for ("buyer" or "seller"); staff and empty filters get both.
func (r *OrderRepository) ListForViewer(ctx context.Context, viewer *User, sideFilter string) ([]domain.Order, error) {
	query := `SELECT` + orderColumns + orderJoins
	var args []any

	if viewer.Role != domain.RoleAdmin && viewer.Role != domain.RoleModerator {
		args = append(args, viewer.ID)
		switch sideFilter {
		case "buyer":
			query += ` WHERE o.buyer_id = $1`
		case "seller":
			query += ` WHERE o.seller_id = $1`
		default:
			query += ` WHERE o.buyer_id = $1 OR o.seller_id = $1`
		}
	}
	query += ` ORDER BY o.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// Accept marks a pending order accepted. The WHERE clause carries the whole
// rule, so two concurrent accepts cannot both win; the loser gets the reason
// via a follow-up read.
func (r *OrderRepository) Accept(ctx context.Context, id, sellerID string, at time.Time) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET accepted_at = $3, updated_at = NOW()
		WHERE id = $1 AND seller_id = $2 AND status = $4 AND accepted_at IS NULL
	`, id, sellerID, at, domain.OrderStatusPending)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case order == nil:
			return nil, domain.ErrNotFound
		case order.Seller.ID != sellerID:
			return nil, domain.ErrForbidden
		default:
			return nil, domain.ErrInvalidTransition
		}
	}

	return r.GetByID(ctx, id)
}

// StatusAttachment carries the evidence a transition may deposit on the
// order: payment proof when the buyer reports payment, delivery details when
// the seller ships.
type StatusAttachment struct {
	PaymentProof *domain.PaymentProof
	DeliveryInfo *domain.DeliveryInfo
}

// UpdateStatus is a compare-and-swap on the status column. The from guard
// makes concurrent transitions serialize: the second writer's guard no longer
// matches and it gets ErrInvalidTransition instead of silently clobbering.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, attach *StatusAttachment) (*domain.Order, error) {
	var (
		paymentReference, paymentNote                      sql.NullString
		paymentSubmittedAt                                 sql.NullTime
		deliveryAddress, deliveryCarrier, deliveryTracking sql.NullString
	)
	if attach != nil {
		if p := attach.PaymentProof; p != nil {
			paymentReference = sql.NullString{String: p.Reference, Valid: true}
			paymentNote = sql.NullString{String: p.Note, Valid: true}
			paymentSubmittedAt = sql.NullTime{Time: p.SubmittedAt, Valid: true}
		}
		if d := attach.DeliveryInfo; d != nil {
			deliveryAddress = sql.NullString{String: d.Address, Valid: true}
			deliveryCarrier = sql.NullString{String: d.Carrier, Valid: true}
			deliveryTracking = sql.NullString{String: d.TrackingCode, Valid: true}
		}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = NOW(),
			payment_reference = COALESCE($4, payment_reference),
			payment_note = COALESCE($5, payment_note),
			payment_submitted_at = COALESCE($6, payment_submitted_at),
			delivery_address = COALESCE($7, delivery_address),
			delivery_carrier = COALESCE($8, delivery_carrier),
			delivery_tracking_code = COALESCE($9, delivery_tracking_code)
		WHERE id = $1 AND status = $2
	`, id, from, to,
		paymentReference, paymentNote, paymentSubmittedAt,
		deliveryAddress, deliveryCarrier, deliveryTracking)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidTransition
	}

	return r.GetByID(ctx, id)
}
