package store

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps all data in process memory.
// Transactions stage their writes and publish them on commit; row locks are process-local
// and are held until the transaction ends, so the locking protocol behaves as on PostgreSQL.
type MemoryStore struct {
	mu            sync.RWMutex
	shoppers      map[uuid.UUID]db.Shopper
	products      map[uuid.UUID]db.StoredProduct
	carts         map[uuid.UUID]db.Cart // keyed by shopper
	lines         map[uuid.UUID]map[uuid.UUID]db.CartLine
	purchases     map[uuid.UUID]db.Purchase
	purchaseLines map[uuid.UUID][]db.PurchaseLine

	locks       *lockTable
	lockTimeout time.Duration
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. Lock waits are bounded by lockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		shoppers:      make(map[uuid.UUID]db.Shopper),
		products:      make(map[uuid.UUID]db.StoredProduct),
		carts:         make(map[uuid.UUID]db.Cart),
		lines:         make(map[uuid.UUID]map[uuid.UUID]db.CartLine),
		purchases:     make(map[uuid.UUID]db.Purchase),
		purchaseLines: make(map[uuid.UUID][]db.PurchaseLine),
		locks:         newLockTable(),
		lockTimeout:   lockTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func cartLockKey(cartID uuid.UUID) string { return "cart:" + cartID.String() }

func cartOwnerLockKey(shopperID uuid.UUID) string { return "cart-owner:" + shopperID.String() }

func storedProductLockKey(id uuid.UUID) string { return "stored-product:" + id.String() }

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", purchaseerrors.ErrTransactionBegin, err)
	}
	tx := &memoryTx{
		s:             m,
		held:          make(map[string]struct{}),
		products:      make(map[uuid.UUID]db.StoredProduct),
		carts:         make(map[uuid.UUID]db.Cart),
		lines:         make(map[uuid.UUID]map[uuid.UUID]db.CartLine),
		purchases:     make(map[uuid.UUID]db.Purchase),
		purchaseLines: make(map[uuid.UUID][]db.PurchaseLine),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) CreateShopper(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shoppers[id]; ok {
		return fmt.Errorf("create shopper %s: %w", id, purchaseerrors.ErrShopperAlreadyExists)
	}
	m.shoppers[id] = db.Shopper{ID: id, CreatedAt: m.now()}
	return nil
}

func (m *MemoryStore) CreateStoredProduct(_ context.Context, params db.CreateStoredProductParams) (*db.StoredProduct, error) {
	if !validPrice(params.Price) {
		return nil, purchaseerrors.ErrInvalidPrice
	}
	if params.Quantity < 0 {
		return nil, purchaseerrors.ErrInvalidQuantity
	}
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.products {
		if sp.ID == params.ID || (sp.StoreID == params.StoreID && sp.ProductID == params.ProductID) {
			return nil, fmt.Errorf("create stored product %s of store %s: %w", params.ProductID, params.StoreID, purchaseerrors.ErrStoredProductAlreadyListed)
		}
	}
	now := m.now()
	sp := db.StoredProduct{
		ID:        params.ID,
		StoreID:   params.StoreID,
		ProductID: params.ProductID,
		Price:     params.Price,
		Quantity:  params.Quantity,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.products[sp.ID] = sp
	return &sp, nil
}

func (m *MemoryStore) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*db.StoredProduct, error) {
	return updatePrice(ctx, m, id, price)
}

func (m *MemoryStore) Restock(ctx context.Context, id uuid.UUID, delta int32) (*db.StoredProduct, error) {
	return restock(ctx, m, id, delta)
}

func (m *MemoryStore) ShopperExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shoppers[id]
	return ok, nil
}

func (m *MemoryStore) FindCartByShopper(_ context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cart, ok := m.carts[shopperID]
	if !ok {
		return nil, purchaseerrors.ErrCartNotFound
	}
	return &cart, nil
}

func (m *MemoryStore) FindCartLines(_ context.Context, cartID uuid.UUID) ([]db.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedLines(m.lines[cartID]), nil
}

func (m *MemoryStore) FindStoredProduct(_ context.Context, id uuid.UUID) (*db.StoredProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.products[id]
	if !ok {
		return nil, purchaseerrors.ErrInventoryRecordNotFound
	}
	return &sp, nil
}

func (m *MemoryStore) FindPurchasesByBuyer(_ context.Context, params db.FindPurchasesByBuyerParams) ([]db.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []db.Purchase{}
	for _, p := range m.purchases {
		if p.BuyerID == params.BuyerID && !p.CreatedAt.Before(params.Start) && !p.CreatedAt.After(params.End) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result, nil
}

func (m *MemoryStore) FindPurchaseByID(_ context.Context, id uuid.UUID) (*db.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, purchaseerrors.ErrPurchaseNotFound
	}
	return &p, nil
}

func (m *MemoryStore) FindPurchaseLines(_ context.Context, purchaseIDs []uuid.UUID) ([]db.PurchaseLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []db.PurchaseLine{}
	for _, id := range purchaseIDs {
		result = append(result, m.purchaseLines[id]...)
	}
	return result, nil
}

func sortedLines(lines map[uuid.UUID]db.CartLine) []db.CartLine {
	result := make([]db.CartLine, 0, len(lines))
	for _, l := range lines {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].StoredProductID[:], result[j].StoredProductID[:]) < 0
	})
	return result
}

// memoryTx overlays staged rows on the committed state of its MemoryStore.
// Cart lines are copied per cart on first write.
type memoryTx struct {
	s             *MemoryStore
	held          map[string]struct{}
	products      map[uuid.UUID]db.StoredProduct
	carts         map[uuid.UUID]db.Cart
	lines         map[uuid.UUID]map[uuid.UUID]db.CartLine
	purchases     map[uuid.UUID]db.Purchase
	purchaseLines map[uuid.UUID][]db.PurchaseLine
}

func (t *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memoryTx) releaseAll() {
	for key := range t.held {
		t.s.locks.release(key)
	}
	t.held = nil
}

// commit publishes staged rows before releasing the locks that protect them.
func (t *memoryTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sp := range t.products {
		s.products[id] = sp
	}
	for shopperID, cart := range t.carts {
		s.carts[shopperID] = cart
	}
	for cartID, lines := range t.lines {
		s.lines[cartID] = lines
	}
	for id, p := range t.purchases {
		s.purchases[id] = p
	}
	for id, lines := range t.purchaseLines {
		s.purchaseLines[id] = lines
	}
}

func (t *memoryTx) ShopperExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return t.s.ShopperExists(ctx, id)
}

func (t *memoryTx) FindCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	if cart, ok := t.carts[shopperID]; ok {
		return &cart, nil
	}
	return t.s.FindCartByShopper(ctx, shopperID)
}

func (t *memoryTx) FindCartLines(ctx context.Context, cartID uuid.UUID) ([]db.CartLine, error) {
	if lines, ok := t.lines[cartID]; ok {
		return sortedLines(lines), nil
	}
	return t.s.FindCartLines(ctx, cartID)
}

func (t *memoryTx) FindStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error) {
	if sp, ok := t.products[id]; ok {
		return &sp, nil
	}
	return t.s.FindStoredProduct(ctx, id)
}

func (t *memoryTx) FindPurchasesByBuyer(ctx context.Context, params db.FindPurchasesByBuyerParams) ([]db.Purchase, error) {
	return t.s.FindPurchasesByBuyer(ctx, params)
}

func (t *memoryTx) FindPurchaseByID(ctx context.Context, id uuid.UUID) (*db.Purchase, error) {
	if p, ok := t.purchases[id]; ok {
		return &p, nil
	}
	return t.s.FindPurchaseByID(ctx, id)
}

func (t *memoryTx) FindPurchaseLines(ctx context.Context, purchaseIDs []uuid.UUID) ([]db.PurchaseLine, error) {
	result, err := t.s.FindPurchaseLines(ctx, purchaseIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range purchaseIDs {
		result = append(result, t.purchaseLines[id]...)
	}
	return result, nil
}

func (t *memoryTx) CreateCart(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	exists, err := t.ShopperExists(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, purchaseerrors.ErrShopperNotFound
	}
	if err := t.lock(ctx, cartOwnerLockKey(shopperID)); err != nil {
		return nil, err
	}
	if _, err := t.FindCartByShopper(ctx, shopperID); err == nil {
		return nil, purchaseerrors.ErrCartAlreadyExists
	}
	cart := db.Cart{ID: uuid.New(), ShopperID: shopperID, CreatedAt: t.s.now()}
	t.carts[shopperID] = cart
	// a fresh cart starts with no lines
	t.lines[cart.ID] = map[uuid.UUID]db.CartLine{}
	if err := t.lock(ctx, cartLockKey(cart.ID)); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (t *memoryTx) LockCartByShopper(ctx context.Context, shopperID uuid.UUID) (*db.Cart, error) {
	cart, err := t.FindCartByShopper(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, cartLockKey(cart.ID)); err != nil {
		return nil, err
	}
	return cart, nil
}

func (t *memoryTx) LockStoredProduct(ctx context.Context, id uuid.UUID) (*db.StoredProduct, error) {
	if _, err := t.FindStoredProduct(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, storedProductLockKey(id)); err != nil {
		return nil, err
	}
	// re-read: the committed row may have changed while waiting
	return t.FindStoredProduct(ctx, id)
}

func (t *memoryTx) UpdateStock(ctx context.Context, params db.UpdateStockParams) error {
	if params.Quantity < 0 {
		return purchaseerrors.ErrInvalidQuantity
	}
	return t.updateStoredProduct(ctx, params.ID, params.Version, func(sp *db.StoredProduct) {
		sp.Quantity = params.Quantity
	})
}

func (t *memoryTx) UpdatePrice(ctx context.Context, params db.UpdatePriceParams) error {
	return t.updateStoredProduct(ctx, params.ID, params.Version, func(sp *db.StoredProduct) {
		sp.Price = params.Price
	})
}

// updateStoredProduct locks the row like an UPDATE would and applies fn behind the version guard.
func (t *memoryTx) updateStoredProduct(ctx context.Context, id uuid.UUID, version int32, fn func(sp *db.StoredProduct)) error {
	sp, err := t.LockStoredProduct(ctx, id)
	if err != nil {
		return err
	}
	if sp.Version != version {
		return fmt.Errorf("stored product %s: %w", id, purchaseerrors.ErrConcurrentModification)
	}
	fn(sp)
	sp.Version++
	sp.UpdatedAt = t.s.now()
	t.products[id] = *sp
	return nil
}

// stagedLines returns the writable line set of a cart, taking the cart lock first.
func (t *memoryTx) stagedLines(ctx context.Context, cartID uuid.UUID) (map[uuid.UUID]db.CartLine, error) {
	if err := t.lock(ctx, cartLockKey(cartID)); err != nil {
		return nil, err
	}
	if lines, ok := t.lines[cartID]; ok {
		return lines, nil
	}
	t.s.mu.RLock()
	staged := make(map[uuid.UUID]db.CartLine, len(t.s.lines[cartID]))
	for id, l := range t.s.lines[cartID] {
		staged[id] = l
	}
	t.s.mu.RUnlock()
	t.lines[cartID] = staged
	return staged, nil
}

func (t *memoryTx) AddCartLine(ctx context.Context, cartID, storedProductID uuid.UUID, quantity int32) (*db.CartLine, error) {
	if quantity <= 0 {
		return nil, purchaseerrors.ErrInvalidQuantity
	}
	if _, err := t.FindStoredProduct(ctx, storedProductID); err != nil {
		return nil, err
	}
	lines, err := t.stagedLines(ctx, cartID)
	if err != nil {
		return nil, err
	}
	now := t.s.now()
	line, ok := lines[storedProductID]
	if ok {
		sum := int64(line.Quantity) + int64(quantity)
		if sum > math.MaxInt32 {
			return nil, purchaseerrors.ErrInvalidQuantity
		}
		line.Quantity = int32(sum)
		line.UpdatedAt = now
	} else {
		line = db.CartLine{
			ID:              uuid.New(),
			CartID:          cartID,
			StoredProductID: storedProductID,
			Quantity:        quantity,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	lines[storedProductID] = line
	return &line, nil
}

func (t *memoryTx) DeleteCartLine(ctx context.Context, cartID, storedProductID uuid.UUID) error {
	lines, err := t.stagedLines(ctx, cartID)
	if err != nil {
		return err
	}
	if _, ok := lines[storedProductID]; !ok {
		return purchaseerrors.ErrLineNotFound
	}
	delete(lines, storedProductID)
	return nil
}

func (t *memoryTx) DeleteCartLines(ctx context.Context, cartID uuid.UUID) (int64, error) {
	lines, err := t.stagedLines(ctx, cartID)
	if err != nil {
		return 0, err
	}
	n := int64(len(lines))
	t.lines[cartID] = map[uuid.UUID]db.CartLine{}
	return n, nil
}

func (t *memoryTx) CreatePurchase(_ context.Context, params db.CreatePurchaseParams) (*db.Purchase, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.s.now()
	}
	p := db.Purchase{ID: params.ID, BuyerID: params.BuyerID, TotalPrice: decimal.Zero, CreatedAt: createdAt}
	t.purchases[p.ID] = p
	return &p, nil
}

func (t *memoryTx) CreatePurchaseLine(_ context.Context, line db.PurchaseLine) (*db.PurchaseLine, error) {
	if _, ok := t.purchases[line.PurchaseID]; !ok {
		return nil, purchaseerrors.ErrPurchaseNotFound
	}
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	t.purchaseLines[line.PurchaseID] = append(t.purchaseLines[line.PurchaseID], line)
	return &line, nil
}

func (t *memoryTx) UpdatePurchaseTotal(_ context.Context, purchaseID uuid.UUID, total decimal.Decimal) error {
	p, ok := t.purchases[purchaseID]
	if !ok {
		return purchaseerrors.ErrPurchaseNotFound
	}
	p.TotalPrice = total
	t.purchases[purchaseID] = p
	return nil
}
