package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/abgdnv/marketplace/pkg/messaging"
	"github.com/abgdnv/marketplace/pkg/messaging/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event messaging.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// fixture wires a Service to an in-memory store.
type fixture struct {
	store     *store.MemoryStore
	svc       *Service
	publisher *mockPublisher
}

func newFixture(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	memStore := store.NewMemoryStore(lockTimeout)
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:     memStore,
		svc:       NewService(memStore, publisher, logger),
		publisher: publisher,
	}
}

func (f *fixture) registerShopper(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.CreateShopper(context.Background(), id))
	return id
}

// shopperWithCart registers a shopper and opens their cart.
func (f *fixture) shopperWithCart(t *testing.T) uuid.UUID {
	t.Helper()
	id := f.registerShopper(t)
	_, err := f.svc.OpenCart(context.Background(), id)
	require.NoError(t, err)
	return id
}

func (f *fixture) storedProduct(t *testing.T, price string, quantity int32) *db.StoredProduct {
	t.Helper()
	sp, err := f.store.CreateStoredProduct(context.Background(), db.CreateStoredProductParams{
		StoreID:   uuid.New(),
		ProductID: uuid.New(),
		Price:     decimal.RequireFromString(price),
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return sp
}

func (f *fixture) addLine(t *testing.T, shopperID uuid.UUID, storedProductID uuid.UUID, quantity int32) {
	t.Helper()
	_, err := f.svc.AddLine(context.Background(), shopperID, AddLineDto{StoredProductID: storedProductID, Quantity: quantity})
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, id uuid.UUID) int32 {
	t.Helper()
	sp, err := f.store.FindStoredProduct(context.Background(), id)
	require.NoError(t, err)
	return sp.Quantity
}

func Test_PurchasingService_OpenCart(t *testing.T) {
	testCases := []struct {
		name        string
		setup       func(t *testing.T, f *fixture) uuid.UUID
		expectError error
	}{
		{
			name: "Success - empty cart opened",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				return f.registerShopper(t)
			},
		},
		{
			name: "Error - shopper not found",
			setup: func(_ *testing.T, _ *fixture) uuid.UUID {
				return uuid.New()
			},
			expectError: purchaseerrors.ErrShopperNotFound,
		},
		{
			name: "Error - cart already exists",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				return f.shopperWithCart(t)
			},
			expectError: purchaseerrors.ErrCartAlreadyExists,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			f := newFixture(t, time.Second)
			shopperID := tc.setup(t, f)
			// when
			cart, err := f.svc.OpenCart(context.Background(), shopperID)
			// then
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				assert.Nil(t, cart)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, shopperID, cart.ShopperID)
			assert.NotEqual(t, uuid.Nil, cart.ID)
			assert.Empty(t, cart.Lines)
		})
	}
}

func Test_PurchasingService_GetCart(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	sp := f.storedProduct(t, "2.50", 10)
	f.addLine(t, shopperID, sp.ID, 2)

	// when
	cart, err := f.svc.GetCart(context.Background(), shopperID)

	// then
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, sp.ID, cart.Lines[0].StoredProductID)
	assert.Equal(t, int32(2), cart.Lines[0].Quantity)

	_, err = f.svc.GetCart(context.Background(), f.registerShopper(t))
	assert.ErrorIs(t, err, purchaseerrors.ErrCartNotFound)
}

func Test_PurchasingService_AddLine(t *testing.T) {
	testCases := []struct {
		name        string
		setup       func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto)
		expectedQty int32
		expectError error
	}{
		{
			name: "Success - new line",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				sp := f.storedProduct(t, "1.00", 1)
				return f.shopperWithCart(t), AddLineDto{StoredProductID: sp.ID, Quantity: 3}
			},
			expectedQty: 3,
		},
		{
			name: "Success - existing line is incremented",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				sp := f.storedProduct(t, "1.00", 1)
				shopperID := f.shopperWithCart(t)
				f.addLine(t, shopperID, sp.ID, 2)
				return shopperID, AddLineDto{StoredProductID: sp.ID, Quantity: 5}
			},
			expectedQty: 7,
		},
		{
			name: "Error - zero quantity",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				sp := f.storedProduct(t, "1.00", 1)
				return f.shopperWithCart(t), AddLineDto{StoredProductID: sp.ID, Quantity: 0}
			},
			expectError: purchaseerrors.ErrInvalidQuantity,
		},
		{
			name: "Error - shopper not found",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				sp := f.storedProduct(t, "1.00", 1)
				return uuid.New(), AddLineDto{StoredProductID: sp.ID, Quantity: 1}
			},
			expectError: purchaseerrors.ErrShopperNotFound,
		},
		{
			name: "Error - stored product not found",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				return f.shopperWithCart(t), AddLineDto{StoredProductID: uuid.New(), Quantity: 1}
			},
			expectError: purchaseerrors.ErrInventoryRecordNotFound,
		},
		{
			name: "Error - cart not found",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, AddLineDto) {
				sp := f.storedProduct(t, "1.00", 1)
				return f.registerShopper(t), AddLineDto{StoredProductID: sp.ID, Quantity: 1}
			},
			expectError: purchaseerrors.ErrCartNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			f := newFixture(t, time.Second)
			shopperID, dto := tc.setup(t, f)
			// when
			line, err := f.svc.AddLine(context.Background(), shopperID, dto)
			// then
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				assert.Nil(t, line)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedQty, line.Quantity)
			cart, err := f.svc.GetCart(context.Background(), shopperID)
			require.NoError(t, err)
			require.Len(t, cart.Lines, 1, "at most one line per stored product")
		})
	}
}

func Test_PurchasingService_RemoveLine(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	kept := f.storedProduct(t, "1.00", 5)
	removed := f.storedProduct(t, "2.00", 5)
	f.addLine(t, shopperID, kept.ID, 1)
	f.addLine(t, shopperID, removed.ID, 1)

	// when
	err := f.svc.RemoveLine(context.Background(), shopperID, removed.ID)

	// then
	require.NoError(t, err)
	cart, err := f.svc.GetCart(context.Background(), shopperID)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, kept.ID, cart.Lines[0].StoredProductID)

	assert.ErrorIs(t, f.svc.RemoveLine(context.Background(), shopperID, removed.ID), purchaseerrors.ErrLineNotFound)
	assert.ErrorIs(t, f.svc.RemoveLine(context.Background(), f.registerShopper(t), kept.ID), purchaseerrors.ErrCartNotFound)
}

func Test_PurchasingService_CompletePurchase(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	a := f.storedProduct(t, "10.00", 5)
	b := f.storedProduct(t, "5.00", 10)
	f.addLine(t, shopperID, a.ID, 1)
	f.addLine(t, shopperID, b.ID, 4)

	// when
	purchase, err := f.svc.CompletePurchase(context.Background(), shopperID)

	// then
	require.NoError(t, err)
	assert.Equal(t, shopperID, purchase.BuyerID)
	assert.True(t, decimal.RequireFromString("30.00").Equal(purchase.TotalPrice), "total is %s", purchase.TotalPrice)
	require.Len(t, purchase.Lines, 2)
	sum := decimal.Zero
	for _, l := range purchase.Lines {
		sum = sum.Add(l.Price)
		assert.True(t, l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)).Equal(l.Price))
	}
	assert.True(t, sum.Equal(purchase.TotalPrice))

	assert.Equal(t, int32(4), f.quantity(t, a.ID))
	assert.Equal(t, int32(6), f.quantity(t, b.ID))

	cart, err := f.svc.GetCart(context.Background(), shopperID)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e events.PurchaseCompletedEvent) bool {
		return e.PurchaseID == purchase.ID && e.BuyerID == shopperID && e.TotalPrice.Equal(purchase.TotalPrice) && len(e.Lines) == 2
	}))
}

func Test_PurchasingService_CompletePurchase_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		setup       func(t *testing.T, f *fixture) uuid.UUID
		expectError error
	}{
		{
			name: "Error - cart not found",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				return f.registerShopper(t)
			},
			expectError: purchaseerrors.ErrCartNotFound,
		},
		{
			name: "Error - cart empty",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				return f.shopperWithCart(t)
			},
			expectError: purchaseerrors.ErrCartEmpty,
		},
		{
			name: "Error - insufficient stock",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				shopperID := f.shopperWithCart(t)
				f.addLine(t, shopperID, f.storedProduct(t, "1.00", 1).ID, 2)
				return shopperID
			},
			expectError: purchaseerrors.ErrInsufficientStock,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			f := newFixture(t, time.Second)
			shopperID := tc.setup(t, f)
			// when
			purchase, err := f.svc.CompletePurchase(context.Background(), shopperID)
			// then
			assert.ErrorIs(t, err, tc.expectError)
			assert.Nil(t, purchase)
			f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func Test_PurchasingService_CompletePurchase_InsufficientStockIsAtomic(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	enough := f.storedProduct(t, "1.00", 5)
	short := f.storedProduct(t, "1.00", 3)
	f.addLine(t, shopperID, enough.ID, 2)
	f.addLine(t, shopperID, short.ID, 10)

	// when
	_, err := f.svc.CompletePurchase(context.Background(), shopperID)

	// then
	var stockErr *purchaseerrors.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, short.ID, stockErr.StoredProductID)
	assert.Equal(t, short.ProductID, stockErr.ProductID)
	assert.Equal(t, int32(10), stockErr.Requested)
	assert.Equal(t, int32(3), stockErr.Available)

	assert.Equal(t, int32(5), f.quantity(t, enough.ID), "no stock change survives the rollback")
	assert.Equal(t, int32(3), f.quantity(t, short.ID))
	cart, err := f.svc.GetCart(context.Background(), shopperID)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2, "cart lines are kept")
	purchases, err := f.svc.ListPurchases(context.Background(), shopperID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func Test_PurchasingService_CompletePurchase_CartReuse(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	sp := f.storedProduct(t, "3.00", 10)
	f.addLine(t, shopperID, sp.ID, 2)
	first, err := f.svc.CompletePurchase(context.Background(), shopperID)
	require.NoError(t, err)

	// when
	f.addLine(t, shopperID, sp.ID, 3)
	second, err := f.svc.CompletePurchase(context.Background(), shopperID)

	// then
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, decimal.RequireFromString("9.00").Equal(second.TotalPrice))
	assert.Equal(t, int32(5), f.quantity(t, sp.ID))
}

func Test_PurchasingService_PriceSnapshot(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	sp := f.storedProduct(t, "4.00", 10)
	f.addLine(t, shopperID, sp.ID, 2)
	purchase, err := f.svc.CompletePurchase(context.Background(), shopperID)
	require.NoError(t, err)

	// when
	_, err = f.store.UpdatePrice(context.Background(), sp.ID, decimal.RequireFromString("99.00"))
	require.NoError(t, err)
	found, err := f.svc.GetPurchase(context.Background(), shopperID, purchase.ID)

	// then
	require.NoError(t, err)
	require.Len(t, found.Lines, 1)
	assert.True(t, decimal.RequireFromString("4.00").Equal(found.Lines[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("8.00").Equal(found.Lines[0].Price))
	assert.True(t, decimal.RequireFromString("8.00").Equal(found.TotalPrice))
}

func Test_PurchasingService_PublishFailureKeepsPurchase(t *testing.T) {
	// given
	memStore := store.NewMemoryStore(time.Second)
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))
	f := &fixture{store: memStore, svc: NewService(memStore, publisher, slog.New(slog.NewTextHandler(io.Discard, nil))), publisher: publisher}
	shopperID := f.shopperWithCart(t)
	sp := f.storedProduct(t, "1.00", 1)
	f.addLine(t, shopperID, sp.ID, 1)

	// when
	purchase, err := f.svc.CompletePurchase(context.Background(), shopperID)

	// then
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.quantity(t, sp.ID))
	_, err = f.svc.GetPurchase(context.Background(), shopperID, purchase.ID)
	assert.NoError(t, err)
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func Test_PurchasingService_ListPurchases(t *testing.T) {
	january := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	february := time.Date(2025, time.February, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, time.Second)
	shopperID := f.shopperWithCart(t)
	sp := f.storedProduct(t, "1.00", 10)
	for _, at := range []time.Time{january, february} {
		f.svc.now = func() time.Time { return at }
		f.addLine(t, shopperID, sp.ID, 1)
		_, err := f.svc.CompletePurchase(context.Background(), shopperID)
		require.NoError(t, err)
	}
	f.svc.now = func() time.Time { return february.Add(24 * time.Hour) }

	ptr := func(t time.Time) *time.Time { return &t }
	testCases := []struct {
		name        string
		buyerID     uuid.UUID
		start       *time.Time
		end         *time.Time
		expectedLen int
		expectError error
	}{
		{name: "Success - default range", buyerID: shopperID, expectedLen: 2},
		{name: "Success - from February", buyerID: shopperID, start: ptr(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)), expectedLen: 1},
		{name: "Success - bounds are inclusive", buyerID: shopperID, start: ptr(january), end: ptr(january), expectedLen: 1},
		{name: "Success - nothing in range", buyerID: shopperID, end: ptr(time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)), expectedLen: 0},
		{name: "Success - start only, in the future", buyerID: shopperID, start: ptr(february.Add(48 * time.Hour)), expectedLen: 0},
		{name: "Success - end only, before the epoch", buyerID: shopperID, end: ptr(time.Unix(-100, 0).UTC()), expectedLen: 0},
		{name: "Error - start after end", buyerID: shopperID, start: ptr(february), end: ptr(january), expectError: purchaseerrors.ErrInvalidDateRange},
		{name: "Error - range checked before buyer", buyerID: uuid.New(), start: ptr(february), end: ptr(january), expectError: purchaseerrors.ErrInvalidDateRange},
		{name: "Error - buyer not found", buyerID: uuid.New(), expectError: purchaseerrors.ErrBuyerNotFound},
		{name: "Error - buyer not found, start only", buyerID: uuid.New(), start: ptr(february.Add(48 * time.Hour)), expectError: purchaseerrors.ErrBuyerNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// when
			purchases, err := f.svc.ListPurchases(context.Background(), tc.buyerID, tc.start, tc.end)
			// then
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				assert.Nil(t, purchases)
				return
			}
			require.NoError(t, err)
			assert.Len(t, purchases, tc.expectedLen)
			for i := 1; i < len(purchases); i++ {
				assert.LessOrEqual(t, purchases[i-1].CreatedAt, purchases[i].CreatedAt)
			}
			for _, p := range purchases {
				assert.Len(t, p.Lines, 1)
			}
		})
	}
}

func Test_PurchasingService_GetPurchase_OtherBuyer(t *testing.T) {
	// given
	f := newFixture(t, time.Second)
	owner := f.shopperWithCart(t)
	f.addLine(t, owner, f.storedProduct(t, "1.00", 1).ID, 1)
	purchase, err := f.svc.CompletePurchase(context.Background(), owner)
	require.NoError(t, err)

	// when
	found, err := f.svc.GetPurchase(context.Background(), f.registerShopper(t), purchase.ID)

	// then
	assert.ErrorIs(t, err, purchaseerrors.ErrPurchaseNotFound)
	assert.Nil(t, found)
}
