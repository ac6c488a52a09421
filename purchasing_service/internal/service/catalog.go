package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/abgdnv/marketplace/purchasing_service/internal/store"
	"github.com/abgdnv/marketplace/purchasing_service/internal/store/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogService administers shoppers and the stock listed by stores.
type CatalogService interface {
	RegisterShopper(ctx context.Context, id uuid.UUID) error
	ListStoredProduct(ctx context.Context, sp StoredProductCreateDto) (*StoredProductDto, error)
	GetStoredProduct(ctx context.Context, id uuid.UUID) (*StoredProductDto, error)
	UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*StoredProductDto, error)
	Restock(ctx context.Context, id uuid.UUID, delta int32) (*StoredProductDto, error)
}

type Catalog struct {
	store   store.Store
	catalog store.Catalog
	logger  *slog.Logger
}

// NewCatalog creates a CatalogService. s and c are usually the same backend.
func NewCatalog(s store.Store, c store.Catalog, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:   s,
		catalog: c,
		logger:  logger.With("component", "catalog"),
	}
}

type StoredProductDto struct {
	ID        uuid.UUID       `json:"id"`
	StoreID   uuid.UUID       `json:"store_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int32           `json:"quantity"`
	Version   int32           `json:"version"`
	UpdatedAt string          `json:"updated_at"`
}

type StoredProductCreateDto struct {
	StoreID   uuid.UUID       `json:"store_id" validate:"required"`
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int32           `json:"quantity" validate:"min=0"`
}

type PriceUpdateDto struct {
	Price decimal.Decimal `json:"price"`
}

type RestockDto struct {
	Quantity int32 `json:"quantity" validate:"required,min=1"`
}

func (c *Catalog) RegisterShopper(ctx context.Context, id uuid.UUID) error {
	if err := c.catalog.CreateShopper(ctx, id); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Shopper registered", "shopper_id", id)
	return nil
}

func (c *Catalog) ListStoredProduct(ctx context.Context, dto StoredProductCreateDto) (*StoredProductDto, error) {
	sp, err := c.catalog.CreateStoredProduct(ctx, db.CreateStoredProductParams{
		ID:        uuid.New(),
		StoreID:   dto.StoreID,
		ProductID: dto.ProductID,
		Price:     dto.Price,
		Quantity:  dto.Quantity,
	})
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "Stored product listed", "stored_product_id", sp.ID, "store_id", sp.StoreID, "product_id", sp.ProductID)
	return toStoredProductDto(sp), nil
}

func (c *Catalog) GetStoredProduct(ctx context.Context, id uuid.UUID) (*StoredProductDto, error) {
	sp, err := c.store.FindStoredProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStoredProductDto(sp), nil
}

func (c *Catalog) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*StoredProductDto, error) {
	sp, err := c.catalog.UpdatePrice(ctx, id, price)
	if err != nil {
		return nil, err
	}
	return toStoredProductDto(sp), nil
}

func (c *Catalog) Restock(ctx context.Context, id uuid.UUID, delta int32) (*StoredProductDto, error) {
	sp, err := c.catalog.Restock(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	return toStoredProductDto(sp), nil
}

func toStoredProductDto(sp *db.StoredProduct) *StoredProductDto {
	return &StoredProductDto{
		ID:        sp.ID,
		StoreID:   sp.StoreID,
		ProductID: sp.ProductID,
		Price:     sp.Price,
		Quantity:  sp.Quantity,
		Version:   sp.Version,
		UpdatedAt: sp.UpdatedAt.Format(time.RFC3339),
	}
}
