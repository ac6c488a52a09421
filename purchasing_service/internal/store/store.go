// Package store provides the data-access layer of the purchasing service.
package store

import (
	"context"

	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader holds the queries that never take row locks.
type Reader interface {
	// ShopperExists reports whether a shopper with the given ID is registered.
	ShopperExists(ctx context.Context, id uuid.UUID) (bool, error)

	// FindCartByShopper returns ErrCartNotFound if the shopper has no cart.
	FindCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error)

	// FindCartLines returns the lines of a cart ordered by stored product ID.
	FindCartLines(ctx context.Context, cartID uuid.UUID) ([]db.CartLine, error)

	// FindStoredProduct returns ErrInventoryRecordNotFound if no record exists with the given ID.
	FindStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error)

	// FindPurchasesByBuyer returns purchases created within [Start, End] ordered by creation time and ID.
	FindPurchasesByBuyer(ctx context.Context, params db.FindPurchasesByBuyerParams) ([]db.Purchase, error)

	// FindPurchaseByID returns ErrPurchaseNotFound if no purchase exists with the given ID.
	FindPurchaseByID(ctx context.Context, id uuid.UUID) (*db.Purchase, error)

	// FindPurchaseLines returns the lines of all given purchases.
	FindPurchaseLines(ctx context.Context, purchaseIDs []uuid.UUID) ([]db.PurchaseLine, error)
}

// Tx is a unit of work. Locks taken through it are held until the transaction ends.
type Tx interface {
	Reader

	// CreateCart returns ErrCartAlreadyExists if the shopper already owns a cart.
	CreateCart(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error)

	// LockCartByShopper takes the exclusive lock of the shopper's cart.
	// Returns ErrCartNotFound if the shopper has no cart.
	LockCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error)

	// LockStoredProduct takes the exclusive lock of a stored product and returns its current state.
	LockStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error)

	// UpdateStock writes the new quantity if the record is still at the given version.
	// Returns ErrConcurrentModification otherwise.
	UpdateStock(ctx context.Context, params db.UpdateStockParams) error

	// UpdatePrice writes the new price if the record is still at the given version.
	UpdatePrice(ctx context.Context, params db.UpdatePriceParams) error

	// AddCartLine creates a line or increments the quantity of an existing one.
	AddCartLine(ctx context.Context, cartID, storedProductID uuid.UUID, quantity int32) (*db.CartLine, error)

	// DeleteCartLine returns ErrLineNotFound if the cart has no line for the stored product.
	DeleteCartLine(ctx context.Context, cartID, storedProductID uuid.UUID) error

	// DeleteCartLines empties the cart and returns the number of deleted lines.
	DeleteCartLines(ctx context.Context, cartID uuid.UUID) (int64, error)

	CreatePurchase(ctx context.Context, params db.CreatePurchaseParams) (*db.Purchase, error)
	CreatePurchaseLine(ctx context.Context, line db.PurchaseLine) (*db.PurchaseLine, error)
	UpdatePurchaseTotal(ctx context.Context, purchaseID uuid.UUID, total decimal.Decimal) error
}

// Store runs transactions and answers lock-free queries.
type Store interface {
	Reader

	// InTx runs fn in a transaction. The transaction is committed if fn returns nil
	// and rolled back otherwise; fn's error is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Catalog administers shoppers and stored products.
type Catalog interface {
	CreateShopper(ctx context.Context, id uuid.UUID) error
	CreateStoredProduct(ctx context.Context, params db.CreateStoredProductParams) (*db.StoredProduct, error)

	// UpdatePrice reprices a stored product under its row lock.
	UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*db.StoredProduct, error)

	// Restock adds delta to the on-hand quantity under the row lock.
	Restock(ctx context.Context, id uuid.UUID, delta int32) (*db.StoredProduct, error)
}
