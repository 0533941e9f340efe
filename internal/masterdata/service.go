package masterdata

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// Service resolves master data for the document engine and the UI pickers.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a new master data service
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: shared.NewValidator()}
}

func (s *Service) ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx, filters)
}

func (s *Service) ListLocations(ctx context.Context, filters ListFilters) ([]Location, error) {
	return s.repo.ListLocations(ctx, filters)
}

func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	return s.repo.ListProducts(ctx, filters)
}

// Location implements Lookup.
func (s *Service) Location(ctx context.Context, id uuid.UUID) (Location, error) {
	if id == uuid.Nil {
		return Location{}, shared.NewValidationError("location_id", "required")
	}
	return s.repo.GetLocation(ctx, id)
}

// Product implements Lookup.
func (s *Service) Product(ctx context.Context, id uuid.UUID) (Product, error) {
	if id == uuid.Nil {
		return Product{}, shared.NewValidationError("product_id", "required")
	}
	return s.repo.GetProduct(ctx, id)
}

// Warehouse returns a warehouse by id.
func (s *Service) Warehouse(ctx context.Context, id uuid.UUID) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// CountProducts returns the catalogue size.
func (s *Service) CountProducts(ctx context.Context) (int, error) {
	return s.repo.CountProducts(ctx)
}

// CreateWarehouse is used by the seed tooling.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	w.Name = strings.TrimSpace(w.Name)
	w.ShortCode = strings.ToUpper(strings.TrimSpace(w.ShortCode))
	if err := shared.ValidateStruct(s.validate, w, ""); err != nil {
		return Warehouse{}, err
	}
	return s.repo.CreateWarehouse(ctx, w)
}

// CreateLocation is used by the seed tooling.
func (s *Service) CreateLocation(ctx context.Context, l Location) (Location, error) {
	l.Name = strings.TrimSpace(l.Name)
	l.ShortCode = strings.TrimSpace(l.ShortCode)
	if err := shared.ValidateStruct(s.validate, l, ""); err != nil {
		return Location{}, err
	}
	return s.repo.CreateLocation(ctx, l)
}

// CreateProduct is used by the seed tooling.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.TrimSpace(p.SKU)
	if p.UnitOfMeasure == "" {
		p.UnitOfMeasure = "Units"
	}
	if err := shared.ValidateStruct(s.validate, p, ""); err != nil {
		return Product{}, err
	}
	return s.repo.CreateProduct(ctx, p)
}
