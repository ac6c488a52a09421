package store

import (
	"context"
	"fmt"
	"math"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Both backends reprice and restock the same way: take the checkout row lock, then write
// behind the version guard.

// priceScale is the number of fractional digits prices are stored with.
const priceScale = 2

// validPrice accepts positive prices without sub-cent digits, which NUMERIC(19,2) would round.
func validPrice(price decimal.Decimal) bool {
	return price.IsPositive() && price.Equal(price.Round(priceScale))
}

func updatePrice(ctx context.Context, s Store, id uuid.UUID, price decimal.Decimal) (*db.StoredProduct, error) {
	if !validPrice(price) {
		return nil, purchaseerrors.ErrInvalidPrice
	}
	var updated db.StoredProduct
	err := s.InTx(ctx, func(tx Tx) error {
		sp, err := tx.LockStoredProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.UpdatePrice(ctx, db.UpdatePriceParams{ID: id, Price: price, Version: sp.Version}); err != nil {
			return err
		}
		updated = *sp
		updated.Price = price
		updated.Version++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update price of %s: %w", id, err)
	}
	return &updated, nil
}

func restock(ctx context.Context, s Store, id uuid.UUID, delta int32) (*db.StoredProduct, error) {
	if delta <= 0 {
		return nil, purchaseerrors.ErrInvalidQuantity
	}
	var updated db.StoredProduct
	err := s.InTx(ctx, func(tx Tx) error {
		sp, err := tx.LockStoredProduct(ctx, id)
		if err != nil {
			return err
		}
		if sp.Quantity > math.MaxInt32-delta {
			return purchaseerrors.ErrInvalidQuantity
		}
		quantity := sp.Quantity + delta
		if err := tx.UpdateStock(ctx, db.UpdateStockParams{ID: id, Quantity: quantity, Version: sp.Version}); err != nil {
			return err
		}
		updated = *sp
		updated.Quantity = quantity
		updated.Version++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restock %s: %w", id, err)
	}
	return &updated, nil
}
