package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StoredProduct struct {
	ID        uuid.UUID
	StoreID   uuid.UUID
	ProductID uuid.UUID
	Price     decimal.Decimal
	Quantity  int32
	Version   int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Cart struct {
	ID        uuid.UUID
	ShopperID uuid.UUID
	CreatedAt time.Time
}

type CartLine struct {
	ID              uuid.UUID
	CartID          uuid.UUID
	StoredProductID uuid.UUID
	Quantity        int32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Purchase struct {
	ID         uuid.UUID
	BuyerID    uuid.UUID
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

// PurchaseLine is a snapshot taken at checkout; it never follows later changes of the stored product.
type PurchaseLine struct {
	ID              uuid.UUID
	PurchaseID      uuid.UUID
	StoredProductID uuid.UUID
	ProductID       uuid.UUID
	Quantity        int32
	UnitPrice       decimal.Decimal
	Price           decimal.Decimal
}

type Shopper struct {
	ID        uuid.UUID
	CreatedAt time.Time
}
