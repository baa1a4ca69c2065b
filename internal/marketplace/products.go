package marketplace

import (
	"context"
	"database/sql"
	"time"

	"github.com/rferrao/tradepost/internal/domain"
)

type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref converts a listing row to the shape orders and carts embed.
func (p *Product) Ref() domain.ProductRef {
	return domain.ProductRef{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		PriceCents:  p.PriceCents,
	}
}

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	product := &Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, name, description, image_url, price_cents, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SellerID, &product.Name, &product.Description,
		&product.ImageURL, &product.PriceCents, &product.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, name, description, image_url, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, product.ID, product.SellerID, product.Name, product.Description,
		product.ImageURL, product.PriceCents)
	return err
}
