package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const storedProductColumns = `id, store_id, product_id, price, quantity, version, created_at, updated_at`

func scanStoredProduct(row interface{ Scan(...any) error }) (StoredProduct, error) {
	var i StoredProduct
	err := row.Scan(
		&i.ID,
		&i.StoreID,
		&i.ProductID,
		&i.Price,
		&i.Quantity,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

type CreateStoredProductParams struct {
	ID        uuid.UUID
	StoreID   uuid.UUID
	ProductID uuid.UUID
	Price     decimal.Decimal
	Quantity  int32
}

const createStoredProduct = `-- name: CreateStoredProduct :one
INSERT INTO stored_products (id, store_id, product_id, price, quantity)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + storedProductColumns

func (q *Queries) CreateStoredProduct(ctx context.Context, arg CreateStoredProductParams) (StoredProduct, error) {
	row := q.db.QueryRow(ctx, createStoredProduct, arg.ID, arg.StoreID, arg.ProductID, arg.Price, arg.Quantity)
	return scanStoredProduct(row)
}

const findStoredProduct = `-- name: FindStoredProduct :one
SELECT ` + storedProductColumns + ` FROM stored_products WHERE id = $1
`

func (q *Queries) FindStoredProduct(ctx context.Context, id uuid.UUID) (StoredProduct, error) {
	return scanStoredProduct(q.db.QueryRow(ctx, findStoredProduct, id))
}

const lockStoredProduct = `-- name: LockStoredProduct :one
SELECT ` + storedProductColumns + ` FROM stored_products WHERE id = $1 FOR UPDATE
`

func (q *Queries) LockStoredProduct(ctx context.Context, id uuid.UUID) (StoredProduct, error) {
	return scanStoredProduct(q.db.QueryRow(ctx, lockStoredProduct, id))
}

type UpdateStockParams struct {
	ID       uuid.UUID
	Quantity int32
	Version  int32
}

const updateStock = `-- name: UpdateStock :execrows
UPDATE stored_products
SET quantity = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $3
`

// UpdateStock returns the number of affected rows; zero means the version moved.
func (q *Queries) UpdateStock(ctx context.Context, arg UpdateStockParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateStock, arg.ID, arg.Quantity, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

type UpdatePriceParams struct {
	ID      uuid.UUID
	Price   decimal.Decimal
	Version int32
}

const updatePrice = `-- name: UpdatePrice :execrows
UPDATE stored_products
SET price = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $3
`

func (q *Queries) UpdatePrice(ctx context.Context, arg UpdatePriceParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePrice, arg.ID, arg.Price, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
