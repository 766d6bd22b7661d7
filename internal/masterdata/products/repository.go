package products

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("product not found")

type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	UOM        string    `json:"uom"`
	UnitPrice  float64   `json:"unit_price"`
	TaxPercent float64   `json:"tax_percent"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repository exposes the product read side used to validate quotation lines.
type Repository interface {
	Get(ctx context.Context, id int64) (*Product, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (*Product, error) {
	var p Product
	var unitPrice, taxPercent pgtype.Numeric
	var createdAt, updatedAt pgtype.Timestamptz

	err := r.pool.QueryRow(ctx, `
		SELECT id, sku, name, uom, unit_price, tax_percent, is_active, created_at, updated_at
		FROM products
		WHERE id = $1`, id).Scan(
		&p.ID, &p.SKU, &p.Name, &p.UOM, &unitPrice, &taxPercent, &p.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if unitPrice.Valid {
		f, _ := unitPrice.Float64Value()
		p.UnitPrice = f.Float64
	}
	if taxPercent.Valid {
		f, _ := taxPercent.Float64Value()
		p.TaxPercent = f.Float64
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
