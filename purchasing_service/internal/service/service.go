// Package service implements carts, checkout and purchase history.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/abgdnv/marketplace/pkg/messaging"
	"github.com/abgdnv/marketplace/pkg/messaging/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "purchasing-service"

// PurchasingService defines the operations available to a shopper.
// Every operation is scoped to the shopper the request is authenticated as.
type PurchasingService interface {
	// OpenCart creates an empty cart.
	// Returns ErrShopperNotFound or ErrCartAlreadyExists.
	OpenCart(ctx context.Context, shopperID uuid.UUID) (*CartDto, error)

	// GetCart returns the shopper's cart with its lines, or ErrCartNotFound.
	GetCart(ctx context.Context, shopperID uuid.UUID) (*CartDto, error)

	// AddLine puts a stored product into the cart, incrementing the quantity if it is already there.
	// Stock is not checked until checkout.
	AddLine(ctx context.Context, shopperID uuid.UUID, line AddLineDto) (*CartLineDto, error)

	// RemoveLine drops a stored product from the cart.
	// Returns ErrCartNotFound or ErrLineNotFound.
	RemoveLine(ctx context.Context, shopperID uuid.UUID, storedProductID uuid.UUID) error

	// CompletePurchase turns the cart into a purchase and decrements stock, all or nothing.
	CompletePurchase(ctx context.Context, shopperID uuid.UUID) (*PurchaseDto, error)

	// ListPurchases returns the buyer's purchases created within [start, end].
	// A nil start means the Unix epoch, a nil end means now.
	ListPurchases(ctx context.Context, buyerID uuid.UUID, start, end *time.Time) ([]PurchaseDto, error)

	// GetPurchase returns one of the buyer's purchases, or ErrPurchaseNotFound.
	GetPurchase(ctx context.Context, buyerID uuid.UUID, purchaseID uuid.UUID) (*PurchaseDto, error)
}

// Service implements PurchasingService.
type Service struct {
	store     store.Store
	publisher messaging.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	purchasesCounter metric.Int64Counter
	failuresCounter  metric.Int64Counter
}

// NewService creates a Service on top of the given store. Completed purchases are announced through publisher.
func NewService(s store.Store, publisher messaging.Publisher, logger *slog.Logger) *Service {
	meter := otel.Meter(instrumentationName)
	purchasesCounter, err := meter.Int64Counter("purchases_completed", metric.WithDescription("Total number of completed checkouts"))
	if err != nil {
		panic(fmt.Sprintf("failed to create purchases_completed counter: %v", err))
	}
	failuresCounter, err := meter.Int64Counter("checkout_failures", metric.WithDescription("Checkouts that were rolled back, by reason"))
	if err != nil {
		panic(fmt.Sprintf("failed to create checkout_failures counter: %v", err))
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Service{
		store:            s,
		publisher:        publisher,
		logger:           logger.With("component", "service"),
		tracer:           otel.Tracer(instrumentationName),
		now:              func() time.Time { return time.Now().UTC() },
		purchasesCounter: purchasesCounter,
		failuresCounter:  failuresCounter,
	}
}

type CartDto struct {
	ID        uuid.UUID     `json:"id"`
	ShopperID uuid.UUID     `json:"shopper_id"`
	CreatedAt string        `json:"created_at"`
	Lines     []CartLineDto `json:"lines"`
}

type CartLineDto struct {
	ID              uuid.UUID `json:"id"`
	StoredProductID uuid.UUID `json:"stored_product_id"`
	Quantity        int32     `json:"quantity"`
}

// AddLineDto is the request to put a stored product into the cart.
type AddLineDto struct {
	StoredProductID uuid.UUID `json:"stored_product_id" validate:"required"`
	Quantity        int32     `json:"quantity" validate:"required,min=1"`
}

type PurchaseDto struct {
	ID         uuid.UUID         `json:"id"`
	BuyerID    uuid.UUID         `json:"buyer_id"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	CreatedAt  string            `json:"created_at"`
	Lines      []PurchaseLineDto `json:"lines"`
}

// PurchaseLineDto holds the price paid at the time of sale.
type PurchaseLineDto struct {
	ID              uuid.UUID       `json:"id"`
	StoredProductID uuid.UUID       `json:"stored_product_id"`
	ProductID       uuid.UUID       `json:"product_id"`
	Quantity        int32           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Price           decimal.Decimal `json:"price"`
}

func (s *Service) OpenCart(ctx context.Context, shopperID uuid.UUID) (*CartDto, error) {
	if err := s.requireShopper(ctx, shopperID, purchaseerrors.ErrShopperNotFound); err != nil {
		return nil, err
	}
	var cart *db.Cart
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		cart, err = tx.CreateCart(ctx, shopperID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Cart opened", "cart_id", cart.ID, "shopper_id", shopperID)
	return toCartDto(cart, nil), nil
}

func (s *Service) GetCart(ctx context.Context, shopperID uuid.UUID) (*CartDto, error) {
	cart, err := s.store.FindCartByShopper(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.FindCartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return toCartDto(cart, lines), nil
}

func (s *Service) AddLine(ctx context.Context, shopperID uuid.UUID, line AddLineDto) (*CartLineDto, error) {
	if line.Quantity <= 0 {
		return nil, purchaseerrors.ErrInvalidQuantity
	}
	if err := s.requireShopper(ctx, shopperID, purchaseerrors.ErrShopperNotFound); err != nil {
		return nil, err
	}
	var added *db.CartLine
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.FindStoredProduct(ctx, line.StoredProductID); err != nil {
			return err
		}
		// serializes with a checkout of the same cart
		cart, err := tx.LockCartByShopper(ctx, shopperID)
		if err != nil {
			return err
		}
		added, err = tx.AddCartLine(ctx, cart.ID, line.StoredProductID, line.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toCartLineDto(added), nil
}

func (s *Service) RemoveLine(ctx context.Context, shopperID uuid.UUID, storedProductID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		cart, err := tx.LockCartByShopper(ctx, shopperID)
		if err != nil {
			return err
		}
		return tx.DeleteCartLine(ctx, cart.ID, storedProductID)
	})
}

func (s *Service) CompletePurchase(ctx context.Context, shopperID uuid.UUID) (*PurchaseDto, error) {
	ctx, span := s.tracer.Start(ctx, "CompletePurchase", trace.WithAttributes(attribute.String("shopper.id", shopperID.String())))
	defer span.End()

	var purchase *db.Purchase
	var purchaseLines []db.PurchaseLine
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		purchase, purchaseLines, err = s.checkout(ctx, tx, shopperID)
		return err
	})
	if err != nil {
		reason := failureReason(err)
		s.failuresCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.logger.WarnContext(ctx, "Checkout rolled back", "shopper_id", shopperID, "reason", reason, "error", err)
		return nil, err
	}
	s.purchasesCounter.Add(ctx, 1)
	span.SetAttributes(attribute.String("purchase.id", purchase.ID.String()))
	s.logger.InfoContext(ctx, "Purchase completed", "purchase_id", purchase.ID, "buyer_id", purchase.BuyerID,
		"total_price", purchase.TotalPrice.String(), "lines", len(purchaseLines))

	s.publishCompleted(ctx, purchase, purchaseLines)
	return toPurchaseDto(purchase, purchaseLines), nil
}

// checkout runs inside the transaction. Lock order is the cart first, then stored products
// in ascending ID order, so two checkouts sharing records cannot wait on each other in a cycle.
func (s *Service) checkout(ctx context.Context, tx store.Tx, shopperID uuid.UUID) (*db.Purchase, []db.PurchaseLine, error) {
	cart, err := tx.LockCartByShopper(ctx, shopperID)
	if err != nil {
		return nil, nil, err
	}
	// lines read under the cart lock are the ones being bought
	cartLines, err := tx.FindCartLines(ctx, cart.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(cartLines) == 0 {
		return nil, nil, purchaseerrors.ErrCartEmpty
	}

	purchase, err := tx.CreatePurchase(ctx, db.CreatePurchaseParams{
		ID:        uuid.New(),
		BuyerID:   cart.ShopperID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(cartLines, func(i, j int) bool {
		return bytes.Compare(cartLines[i].StoredProductID[:], cartLines[j].StoredProductID[:]) < 0
	})

	total := decimal.Zero
	purchaseLines := make([]db.PurchaseLine, 0, len(cartLines))
	for _, line := range cartLines {
		sp, err := tx.LockStoredProduct(ctx, line.StoredProductID)
		if err != nil {
			return nil, nil, err
		}
		remaining := sp.Quantity - line.Quantity
		if remaining < 0 {
			return nil, nil, &purchaseerrors.InsufficientStockError{
				StoredProductID: sp.ID,
				ProductID:       sp.ProductID,
				Requested:       line.Quantity,
				Available:       sp.Quantity,
			}
		}
		if err := tx.UpdateStock(ctx, db.UpdateStockParams{ID: sp.ID, Quantity: remaining, Version: sp.Version}); err != nil {
			return nil, nil, err
		}
		price := sp.Price.Mul(decimal.NewFromInt32(line.Quantity))
		created, err := tx.CreatePurchaseLine(ctx, db.PurchaseLine{
			ID:              uuid.New(),
			PurchaseID:      purchase.ID,
			StoredProductID: sp.ID,
			ProductID:       sp.ProductID,
			Quantity:        line.Quantity,
			UnitPrice:       sp.Price,
			Price:           price,
		})
		if err != nil {
			return nil, nil, err
		}
		purchaseLines = append(purchaseLines, *created)
		total = total.Add(price)
	}

	if _, err := tx.DeleteCartLines(ctx, cart.ID); err != nil {
		return nil, nil, err
	}
	if err := tx.UpdatePurchaseTotal(ctx, purchase.ID, total); err != nil {
		return nil, nil, err
	}
	purchase.TotalPrice = total
	return purchase, purchaseLines, nil
}

// publishCompleted announces a committed purchase. A failed publish never undoes the purchase.
func (s *Service) publishCompleted(ctx context.Context, purchase *db.Purchase, lines []db.PurchaseLine) {
	carrier := make(propagation.MapCarrier)
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	items := make([]events.PurchaseLineItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, events.PurchaseLineItem{StoredProductID: l.StoredProductID, Quantity: l.Quantity, Price: l.Price})
	}
	event := events.PurchaseCompletedEvent{
		Carrier:    carrier,
		PurchaseID: purchase.ID,
		BuyerID:    purchase.BuyerID,
		TotalPrice: purchase.TotalPrice,
		Lines:      items,
		CreatedAt:  purchase.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish PurchaseCompletedEvent", "purchase_id", purchase.ID, "error", err)
	}
}

func (s *Service) ListPurchases(ctx context.Context, buyerID uuid.UUID, start, end *time.Time) ([]PurchaseDto, error) {
	if start != nil && end != nil && start.After(*end) {
		return nil, purchaseerrors.ErrInvalidDateRange
	}
	if err := s.requireShopper(ctx, buyerID, purchaseerrors.ErrBuyerNotFound); err != nil {
		return nil, err
	}
	from := time.Unix(0, 0).UTC()
	if start != nil {
		from = *start
	}
	to := s.now()
	if end != nil {
		to = *end
	}
	// a single bound past its default selects nothing
	if from.After(to) {
		return []PurchaseDto{}, nil
	}

	purchases, err := s.store.FindPurchasesByBuyer(ctx, db.FindPurchasesByBuyerParams{BuyerID: buyerID, Start: from, End: to})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(purchases))
	for i, p := range purchases {
		ids[i] = p.ID
	}
	lines, err := s.store.FindPurchaseLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	byPurchase := make(map[uuid.UUID][]db.PurchaseLine, len(purchases))
	for _, l := range lines {
		byPurchase[l.PurchaseID] = append(byPurchase[l.PurchaseID], l)
	}

	result := make([]PurchaseDto, 0, len(purchases))
	for i := range purchases {
		result = append(result, *toPurchaseDto(&purchases[i], byPurchase[purchases[i].ID]))
	}
	return result, nil
}

func (s *Service) GetPurchase(ctx context.Context, buyerID uuid.UUID, purchaseID uuid.UUID) (*PurchaseDto, error) {
	purchase, err := s.store.FindPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	// someone else's purchase is reported as missing
	if purchase.BuyerID != buyerID {
		return nil, purchaseerrors.ErrPurchaseNotFound
	}
	lines, err := s.store.FindPurchaseLines(ctx, []uuid.UUID{purchase.ID})
	if err != nil {
		return nil, err
	}
	return toPurchaseDto(purchase, lines), nil
}

func (s *Service) requireShopper(ctx context.Context, id uuid.UUID, notFound error) error {
	exists, err := s.store.ShopperExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return notFound
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, purchaseerrors.ErrCartEmpty):
		return "cart_empty"
	case errors.Is(err, purchaseerrors.ErrCartNotFound):
		return "cart_not_found"
	case errors.Is(err, purchaseerrors.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, purchaseerrors.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, purchaseerrors.ErrConcurrentModification):
		return "concurrent_modification"
	default:
		return "internal"
	}
}

func toCartDto(cart *db.Cart, lines []db.CartLine) *CartDto {
	linesDto := make([]CartLineDto, 0, len(lines))
	for i := range lines {
		linesDto = append(linesDto, *toCartLineDto(&lines[i]))
	}
	return &CartDto{
		ID:        cart.ID,
		ShopperID: cart.ShopperID,
		CreatedAt: cart.CreatedAt.Format(time.RFC3339),
		Lines:     linesDto,
	}
}

func toCartLineDto(line *db.CartLine) *CartLineDto {
	return &CartLineDto{
		ID:              line.ID,
		StoredProductID: line.StoredProductID,
		Quantity:        line.Quantity,
	}
}

func toPurchaseDto(purchase *db.Purchase, lines []db.PurchaseLine) *PurchaseDto {
	linesDto := make([]PurchaseLineDto, 0, len(lines))
	for _, l := range lines {
		linesDto = append(linesDto, PurchaseLineDto{
			ID:              l.ID,
			StoredProductID: l.StoredProductID,
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			Price:           l.Price,
		})
	}
	return &PurchaseDto{
		ID:         purchase.ID,
		BuyerID:    purchase.BuyerID,
		TotalPrice: purchase.TotalPrice,
		CreatedAt:  purchase.CreatedAt.Format(time.RFC3339),
		Lines:      linesDto,
	}
}
