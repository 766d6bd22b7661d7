package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("customer not found")

// Repository exposes the customer read side consumed by the quotation engine
// when capturing snapshots.
type Repository interface {
	Get(ctx context.Context, id int64) (*Customer, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	var contactName, email, phone, addr1, addr2, city, state, postalCode pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, contact_name, email, phone, address_line1, address_line2,
		       city, state, postal_code, country, is_active, created_at, updated_at
		FROM customers
		WHERE id = $1`, id).Scan(
		&c.ID, &c.Name, &contactName, &email, &phone, &addr1, &addr2,
		&city, &state, &postalCode, &c.Country, &c.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.ContactName = textPtr(contactName)
	c.Email = textPtr(email)
	c.Phone = textPtr(phone)
	c.AddressLine1 = textPtr(addr1)
	c.AddressLine2 = textPtr(addr2)
	c.City = textPtr(city)
	c.State = textPtr(state)
	c.PostalCode = textPtr(postalCode)
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &c, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	val := t.String
	return &val
}
