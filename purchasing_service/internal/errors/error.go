// Package errors provides the error taxonomy of the purchasing service.
package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Referenced entity is absent.
var ErrShopperNotFound = errors.New("shopper not found")
var ErrInventoryRecordNotFound = errors.New("stored product not found")
var ErrCartNotFound = errors.New("cart not found")
var ErrLineNotFound = errors.New("stored product is not in the cart")
var ErrBuyerNotFound = errors.New("buyer not found")
var ErrPurchaseNotFound = errors.New("purchase not found")

var ErrCartAlreadyExists = errors.New("cart already exists")
var ErrShopperAlreadyExists = errors.New("shopper already exists")
var ErrStoredProductAlreadyListed = errors.New("product is already listed by the store")
var ErrCartEmpty = errors.New("cart is empty")
var ErrInsufficientStock = errors.New("insufficient stock")
var ErrInvalidQuantity = errors.New("quantity must be a positive integer")
var ErrInvalidDateRange = errors.New("start date is after end date")
var ErrInvalidPrice = errors.New("price must be positive")

// Transient contention; the whole operation may be retried by the caller.
var ErrConcurrentModification = errors.New("the record has been modified by another transaction")
var ErrLockTimeout = errors.New("timed out waiting for a lock")

var ErrTransactionBegin = errors.New("failed to begin transaction")
var ErrTransactionCommit = errors.New("failed to commit transaction")
var ErrTransactionRollback = errors.New("failed to rollback transaction")

// InsufficientStockError identifies the stored product that could not cover a cart line.
// Available is the quantity observed while holding the record's lock.
type InsufficientStockError struct {
	StoredProductID uuid.UUID
	ProductID       uuid.UUID
	Requested       int32
	Available       int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s (stored product %s), requested %d, available %d",
		ErrInsufficientStock, e.ProductID, e.StoredProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsRetryable reports whether err is transient contention that a caller may resolve by
// re-running the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockTimeout)
}
