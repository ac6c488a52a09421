package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePurchaseParams struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	CreatedAt time.Time
}

const createPurchase = `-- name: CreatePurchase :one
INSERT INTO purchases (id, buyer_id, total_price, created_at)
VALUES ($1, $2, 0, $3)
RETURNING id, buyer_id, total_price, created_at
`

func (q *Queries) CreatePurchase(ctx context.Context, arg CreatePurchaseParams) (Purchase, error) {
	row := q.db.QueryRow(ctx, createPurchase, arg.ID, arg.BuyerID, arg.CreatedAt)
	var i Purchase
	err := row.Scan(&i.ID, &i.BuyerID, &i.TotalPrice, &i.CreatedAt)
	return i, err
}

type UpdatePurchaseTotalParams struct {
	ID         uuid.UUID
	TotalPrice decimal.Decimal
}

const updatePurchaseTotal = `-- name: UpdatePurchaseTotal :execrows
UPDATE purchases SET total_price = $2 WHERE id = $1
`

func (q *Queries) UpdatePurchaseTotal(ctx context.Context, arg UpdatePurchaseTotalParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePurchaseTotal, arg.ID, arg.TotalPrice)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const createPurchaseLine = `-- name: CreatePurchaseLine :one
INSERT INTO purchase_lines (id, purchase_id, stored_product_id, product_id, quantity, unit_price, price)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, purchase_id, stored_product_id, product_id, quantity, unit_price, price
`

func (q *Queries) CreatePurchaseLine(ctx context.Context, arg PurchaseLine) (PurchaseLine, error) {
	row := q.db.QueryRow(ctx, createPurchaseLine,
		arg.ID,
		arg.PurchaseID,
		arg.StoredProductID,
		arg.ProductID,
		arg.Quantity,
		arg.UnitPrice,
		arg.Price,
	)
	var i PurchaseLine
	err := row.Scan(
		&i.ID,
		&i.PurchaseID,
		&i.StoredProductID,
		&i.ProductID,
		&i.Quantity,
		&i.UnitPrice,
		&i.Price,
	)
	return i, err
}

const findPurchaseByID = `-- name: FindPurchaseByID :one
SELECT id, buyer_id, total_price, created_at FROM purchases WHERE id = $1
`

func (q *Queries) FindPurchaseByID(ctx context.Context, id uuid.UUID) (Purchase, error) {
	row := q.db.QueryRow(ctx, findPurchaseByID, id)
	var i Purchase
	err := row.Scan(&i.ID, &i.BuyerID, &i.TotalPrice, &i.CreatedAt)
	return i, err
}

type FindPurchasesByBuyerParams struct {
	BuyerID uuid.UUID
	Start   time.Time
	End     time.Time
}

const findPurchasesByBuyer = `-- name: FindPurchasesByBuyer :many
SELECT id, buyer_id, total_price, created_at
FROM purchases
WHERE buyer_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at, id
`

func (q *Queries) FindPurchasesByBuyer(ctx context.Context, arg FindPurchasesByBuyerParams) ([]Purchase, error) {
	rows, err := q.db.Query(ctx, findPurchasesByBuyer, arg.BuyerID, arg.Start, arg.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Purchase{}
	for rows.Next() {
		var i Purchase
		if err := rows.Scan(&i.ID, &i.BuyerID, &i.TotalPrice, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findPurchaseLines = `-- name: FindPurchaseLines :many
SELECT id, purchase_id, stored_product_id, product_id, quantity, unit_price, price
FROM purchase_lines
WHERE purchase_id = ANY($1::uuid[])
ORDER BY purchase_id, stored_product_id
`

func (q *Queries) FindPurchaseLines(ctx context.Context, purchaseIDs []uuid.UUID) ([]PurchaseLine, error) {
	rows, err := q.db.Query(ctx, findPurchaseLines, purchaseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseLine{}
	for rows.Next() {
		var i PurchaseLine
		if err := rows.Scan(
			&i.ID,
			&i.PurchaseID,
			&i.StoredProductID,
			&i.ProductID,
			&i.Quantity,
			&i.UnitPrice,
			&i.Price,
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
