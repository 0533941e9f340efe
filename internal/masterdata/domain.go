package masterdata

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Warehouse is a physical site; its short code prefixes document references.
type Warehouse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name" validate:"required,max=120"`
	ShortCode string    `json:"short_code" validate:"required,max=8,alphanum"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is a storage place inside exactly one warehouse.
type Location struct {
	ID            uuid.UUID `json:"id"`
	WarehouseID   uuid.UUID `json:"warehouse_id" validate:"required"`
	WarehouseCode string    `json:"warehouse_code,omitempty"`
	Name          string    `json:"name" validate:"required,max=120"`
	ShortCode     string    `json:"short_code" validate:"required,max=16"`
	CreatedAt     time.Time `json:"created_at"`
}

// Product is a stockable item. ReorderLevel only drives low-stock signals.
type Product struct {
	ID            uuid.UUID `json:"id"`
	SKU           string    `json:"sku" validate:"required,max=64"`
	Name          string    `json:"name" validate:"required,max=200"`
	Category      string    `json:"category"`
	UnitOfMeasure string    `json:"unit_of_measure"`
	ReorderLevel  int       `json:"reorder_level" validate:"gte=0"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListFilters narrows list queries.
type ListFilters struct {
	Search      string
	WarehouseID *uuid.UUID
	Limit       int
}

// Repository reads and seeds master data.
type Repository interface {
	ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error)
	GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error)
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)

	ListLocations(ctx context.Context, filters ListFilters) ([]Location, error)
	GetLocation(ctx context.Context, id uuid.UUID) (Location, error)
	CreateLocation(ctx context.Context, l Location) (Location, error)

	ListProducts(ctx context.Context, filters ListFilters) ([]Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	CountProducts(ctx context.Context) (int, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
}

// Lookup is the read-only view other modules depend on.
type Lookup interface {
	Location(ctx context.Context, id uuid.UUID) (Location, error)
	Product(ctx context.Context, id uuid.UUID) (Product, error)
}
