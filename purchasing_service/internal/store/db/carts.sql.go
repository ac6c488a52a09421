package db

import (
	"context"

	"github.com/google/uuid"
)

const createCart = `-- name: CreateCart :one
INSERT INTO carts (id, shopper_id) VALUES ($1, $2)
RETURNING id, shopper_id, created_at
`

type CreateCartParams struct {
	ID        uuid.UUID
	ShopperID uuid.UUID
}

func (q *Queries) CreateCart(ctx context.Context, arg CreateCartParams) (Cart, error) {
	row := q.db.QueryRow(ctx, createCart, arg.ID, arg.ShopperID)
	var i Cart
	err := row.Scan(&i.ID, &i.ShopperID, &i.CreatedAt)
	return i, err
}

const findCartByShopper = `-- name: FindCartByShopper :one
SELECT id, shopper_id, created_at FROM carts WHERE shopper_id = $1
`

func (q *Queries) FindCartByShopper(ctx context.Context, shopperID uuid.UUID) (Cart, error) {
	row := q.db.QueryRow(ctx, findCartByShopper, shopperID)
	var i Cart
	err := row.Scan(&i.ID, &i.ShopperID, &i.CreatedAt)
	return i, err
}

const lockCartByShopper = `-- name: LockCartByShopper :one
SELECT id, shopper_id, created_at FROM carts WHERE shopper_id = $1 FOR UPDATE
`

func (q *Queries) LockCartByShopper(ctx context.Context, shopperID uuid.UUID) (Cart, error) {
	row := q.db.QueryRow(ctx, lockCartByShopper, shopperID)
	var i Cart
	err := row.Scan(&i.ID, &i.ShopperID, &i.CreatedAt)
	return i, err
}

const findCartLines = `-- name: FindCartLines :many
SELECT id, cart_id, stored_product_id, quantity, created_at, updated_at
FROM cart_lines
WHERE cart_id = $1
ORDER BY stored_product_id
`

func (q *Queries) FindCartLines(ctx context.Context, cartID uuid.UUID) ([]CartLine, error) {
	rows, err := q.db.Query(ctx, findCartLines, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CartLine{}
	for rows.Next() {
		var i CartLine
		if err := rows.Scan(
			&i.ID,
			&i.CartID,
			&i.StoredProductID,
			&i.Quantity,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type AddCartLineParams struct {
	ID              uuid.UUID
	CartID          uuid.UUID
	StoredProductID uuid.UUID
	Quantity        int32
}

const addCartLine = `-- name: AddCartLine :one
INSERT INTO cart_lines (id, cart_id, stored_product_id, quantity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cart_id, stored_product_id)
DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity, updated_at = now()
RETURNING id, cart_id, stored_product_id, quantity, created_at, updated_at
`

// AddCartLine creates the line or increments the quantity of the existing one.
func (q *Queries) AddCartLine(ctx context.Context, arg AddCartLineParams) (CartLine, error) {
	row := q.db.QueryRow(ctx, addCartLine, arg.ID, arg.CartID, arg.StoredProductID, arg.Quantity)
	var i CartLine
	err := row.Scan(
		&i.ID,
		&i.CartID,
		&i.StoredProductID,
		&i.Quantity,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

type DeleteCartLineParams struct {
	CartID          uuid.UUID
	StoredProductID uuid.UUID
}

const deleteCartLine = `-- name: DeleteCartLine :execrows
DELETE FROM cart_lines WHERE cart_id = $1 AND stored_product_id = $2
`

func (q *Queries) DeleteCartLine(ctx context.Context, arg DeleteCartLineParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartLine, arg.CartID, arg.StoredProductID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteCartLines = `-- name: DeleteCartLines :execrows
DELETE FROM cart_lines WHERE cart_id = $1
`

func (q *Queries) DeleteCartLines(ctx context.Context, cartID uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartLines, cartID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
