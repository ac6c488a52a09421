package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SQLSTATE codes the store translates into the service error taxonomy.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNumericOutOfRange    = "22003"
	cartsShopperConstraint = "carts_shopper_id_key"
)

type PgStore struct {
	pgReader
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgStore creates a Store backed by a PostgreSQL connection pool.
// Every transaction waits at most lockTimeout for a row lock.
func NewPgStore(dbp *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	return &PgStore{
		pgReader:    pgReader{q: db.New(dbp)},
		db:          dbp,
		lockTimeout: lockTimeout,
	}
}

func (p *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", purchaseerrors.ErrTransactionBegin, mapError(err, nil))
	}
	qtx := p.q.WithTx(tx)

	if err := qtx.SetLockTimeout(ctx, fmt.Sprintf("%dms", p.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("set lock timeout: %w", mapError(err, nil))
	}

	err = fn(&pgTx{pgReader{q: qtx}})
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w: %w", purchaseerrors.ErrTransactionRollback, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mapped := mapError(err, nil)
		if purchaseerrors.IsRetryable(mapped) {
			return mapped
		}
		return fmt.Errorf("%w: %w", purchaseerrors.ErrTransactionCommit, err)
	}

	return nil
}

func (p *PgStore) CreateShopper(ctx context.Context, id uuid.UUID) error {
	if _, err := p.q.CreateShopper(ctx, id); err != nil {
		if isUniqueViolation(err) {
			return purchaseerrors.ErrShopperAlreadyExists
		}
		return fmt.Errorf("create shopper %s: %w", id, mapError(err, nil))
	}
	return nil
}

func (p *PgStore) CreateStoredProduct(ctx context.Context, params db.CreateStoredProductParams) (*db.StoredProduct, error) {
	if !validPrice(params.Price) {
		return nil, purchaseerrors.ErrInvalidPrice
	}
	if params.Quantity < 0 {
		return nil, purchaseerrors.ErrInvalidQuantity
	}
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	sp, err := p.q.CreateStoredProduct(ctx, params)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, purchaseerrors.ErrStoredProductAlreadyListed
		}
		return nil, fmt.Errorf("create stored product: %w", mapError(err, nil))
	}
	return &sp, nil
}

func (p *PgStore) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*db.StoredProduct, error) {
	return updatePrice(ctx, p, id, price)
}

func (p *PgStore) Restock(ctx context.Context, id uuid.UUID, delta int32) (*db.StoredProduct, error) {
	return restock(ctx, p, id, delta)
}

// pgReader serves lock-free queries either from the pool or from inside a transaction.
type pgReader struct {
	q *db.Queries
}

func (r pgReader) ShopperExists(ctx context.Context, id uuid.UUID) (bool, error) {
	exists, err := r.q.ShopperExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("find shopper %s: %w", id, mapError(err, nil))
	}
	return exists, nil
}

func (r pgReader) FindCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	cart, err := r.q.FindCartByShopper(ctx, shopperID)
	if err != nil {
		return nil, mapError(err, purchaseerrors.ErrCartNotFound)
	}
	return &cart, nil
}

func (r pgReader) FindCartLines(ctx context.Context, cartID uuid.UUID) ([]db.CartLine, error) {
	lines, err := r.q.FindCartLines(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("find lines of cart %s: %w", cartID, mapError(err, nil))
	}
	return lines, nil
}

func (r pgReader) FindStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error) {
	sp, err := r.q.FindStoredProduct(ctx, id)
	if err != nil {
		return nil, mapError(err, purchaseerrors.ErrInventoryRecordNotFound)
	}
	return &sp, nil
}

func (r pgReader) FindPurchasesByBuyer(ctx context.Context, params db.FindPurchasesByBuyerParams) ([]db.Purchase, error) {
	purchases, err := r.q.FindPurchasesByBuyer(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("find purchases of %s: %w", params.BuyerID, mapError(err, nil))
	}
	return purchases, nil
}

func (r pgReader) FindPurchaseByID(ctx context.Context, id uuid.UUID) (*db.Purchase, error) {
	purchase, err := r.q.FindPurchaseByID(ctx, id)
	if err != nil {
		return nil, mapError(err, purchaseerrors.ErrPurchaseNotFound)
	}
	return &purchase, nil
}

func (r pgReader) FindPurchaseLines(ctx context.Context, purchaseIDs []uuid.UUID) ([]db.PurchaseLine, error) {
	if len(purchaseIDs) == 0 {
		return []db.PurchaseLine{}, nil
	}
	lines, err := r.q.FindPurchaseLines(ctx, purchaseIDs)
	if err != nil {
		return nil, fmt.Errorf("find purchase lines: %w", mapError(err, nil))
	}
	return lines, nil
}

type pgTx struct {
	pgReader
}

func (t *pgTx) CreateCart(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	cart, err := t.q.CreateCart(ctx, db.CreateCartParams{ID: uuid.New(), ShopperID: shopperID})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == cartsShopperConstraint:
				return nil, purchaseerrors.ErrCartAlreadyExists
			case pgErr.Code == pgForeignKeyViolation:
				return nil, purchaseerrors.ErrShopperNotFound
			}
		}
		return nil, fmt.Errorf("create cart: %w", mapError(err, nil))
	}
	return &cart, nil
}

func (t *pgTx) LockCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	cart, err := t.q.LockCartByShopper(ctx, shopperID)
	if err != nil {
		return nil, mapError(err, purchaseerrors.ErrCartNotFound)
	}
	return &cart, nil
}

func (t *pgTx) LockStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error) {
	sp, err := t.q.LockStoredProduct(ctx, id)
	if err != nil {
		return nil, mapError(err, purchaseerrors.ErrInventoryRecordNotFound)
	}
	return &sp, nil
}

func (t *pgTx) UpdateStock(ctx context.Context, params db.UpdateStockParams) error {
	if params.Quantity < 0 {
		return purchaseerrors.ErrInvalidQuantity
	}
	n, err := t.q.UpdateStock(ctx, params)
	if err != nil {
		return fmt.Errorf("update stock of %s: %w", params.ID, mapError(err, nil))
	}
	if n == 0 {
		return t.versionConflict(ctx, params.ID)
	}
	return nil
}

func (t *pgTx) UpdatePrice(ctx context.Context, params db.UpdatePriceParams) error {
	n, err := t.q.UpdatePrice(ctx, params)
	if err != nil {
		return fmt.Errorf("update price of %s: %w", params.ID, mapError(err, nil))
	}
	if n == 0 {
		return t.versionConflict(ctx, params.ID)
	}
	return nil
}

// versionConflict tells a vanished record apart from one that moved to another version.
func (t *pgTx) versionConflict(ctx context.Context, id uuid.UUID) error {
	if _, err := t.q.FindStoredProduct(ctx, id); err != nil {
		return mapError(err, purchaseerrors.ErrInventoryRecordNotFound)
	}
	return fmt.Errorf("stored product %s: %w", id, purchaseerrors.ErrConcurrentModification)
}

func (t *pgTx) AddCartLine(ctx context.Context, cartID, storedProductID uuid.UUID, quantity int32) (*db.CartLine, error) {
	line, err := t.q.AddCartLine(ctx, db.AddCartLineParams{
		ID:              uuid.New(),
		CartID:          cartID,
		StoredProductID: storedProductID,
		Quantity:        quantity,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, purchaseerrors.ErrInventoryRecordNotFound
		}
		return nil, fmt.Errorf("add cart line: %w", mapError(err, nil))
	}
	return &line, nil
}

func (t *pgTx) DeleteCartLine(ctx context.Context, cartID, storedProductID uuid.UUID) error {
	n, err := t.q.DeleteCartLine(ctx, db.DeleteCartLineParams{CartID: cartID, StoredProductID: storedProductID})
	if err != nil {
		return fmt.Errorf("delete cart line: %w", mapError(err, nil))
	}
	if n == 0 {
		return purchaseerrors.ErrLineNotFound
	}
	return nil
}

func (t *pgTx) DeleteCartLines(ctx context.Context, cartID uuid.UUID) (int64, error) {
	n, err := t.q.DeleteCartLines(ctx, cartID)
	if err != nil {
		return 0, fmt.Errorf("empty cart %s: %w", cartID, mapError(err, nil))
	}
	return n, nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, params db.CreatePurchaseParams) (*db.Purchase, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	purchase, err := t.q.CreatePurchase(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w", mapError(err, nil))
	}
	return &purchase, nil
}

func (t *pgTx) CreatePurchaseLine(ctx context.Context, line db.PurchaseLine) (*db.PurchaseLine, error) {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	created, err := t.q.CreatePurchaseLine(ctx, line)
	if err != nil {
		return nil, fmt.Errorf("create purchase line: %w", mapError(err, nil))
	}
	return &created, nil
}

func (t *pgTx) UpdatePurchaseTotal(ctx context.Context, purchaseID uuid.UUID, total decimal.Decimal) error {
	n, err := t.q.UpdatePurchaseTotal(ctx, db.UpdatePurchaseTotalParams{ID: purchaseID, TotalPrice: total})
	if err != nil {
		return fmt.Errorf("update purchase total: %w", mapError(err, nil))
	}
	if n == 0 {
		return purchaseerrors.ErrPurchaseNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// mapError translates driver errors into the service error taxonomy.
// notFound is returned for pgx.ErrNoRows when set.
func mapError(err error, notFound error) error {
	if notFound != nil && errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", purchaseerrors.ErrLockTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", purchaseerrors.ErrLockTimeout, err)
		case pgSerializationFailure:
			return fmt.Errorf("%w: %w", purchaseerrors.ErrConcurrentModification, err)
		case pgCheckViolation, pgNumericOutOfRange:
			return fmt.Errorf("%w: %w", purchaseerrors.ErrInvalidQuantity, err)
		}
	}
	return err
}
