package db

import (
	"context"

	"github.com/google/uuid"
)

const createShopper = `-- name: CreateShopper :one
INSERT INTO shoppers (id) VALUES ($1)
RETURNING id, created_at
`

func (q *Queries) CreateShopper(ctx context.Context, id uuid.UUID) (Shopper, error) {
	row := q.db.QueryRow(ctx, createShopper, id)
	var i Shopper
	err := row.Scan(&i.ID, &i.CreatedAt)
	return i, err
}

const shopperExists = `-- name: ShopperExists :one
SELECT EXISTS (SELECT 1 FROM shoppers WHERE id = $1)
`

func (q *Queries) ShopperExists(ctx context.Context, id uuid.UUID) (bool, error) {
	row := q.db.QueryRow(ctx, shopperExists, id)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}
