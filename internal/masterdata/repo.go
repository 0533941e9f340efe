package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// repo implements Repository interface
type repo struct {
	db db.Querier
}

// NewRepository creates a new master data repository
func NewRepository(q db.Querier) Repository {
	return &repo{db: q}
}

func (r *repo) ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	query := `SELECT id, name, short_code, address, created_at FROM warehouses`
	var args []any
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` WHERE name ILIKE $1 OR short_code ILIKE $1`
	}
	args = append(args, shared.ClampLimit(filters.Limit))
	query += fmt.Sprintf(` ORDER BY name LIMIT $%d`, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	warehouses := []Warehouse{}
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.ShortCode, &w.Address, &w.CreatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (r *repo) GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error) {
	var w Warehouse
	err := r.db.QueryRow(ctx, `SELECT id, name, short_code, address, created_at FROM warehouses WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.ShortCode, &w.Address, &w.CreatedAt)
	return w, notFound(err, "warehouse", id)
}

func (r *repo) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO warehouses (name, short_code, address) VALUES ($1, $2, $3) RETURNING id, created_at`,
		w.Name, strings.ToUpper(w.ShortCode), w.Address).Scan(&w.ID, &w.CreatedAt)
	return w, db.Classify(err)
}

const locationSelect = `SELECT l.id, l.warehouse_id, w.short_code, l.name, l.short_code, l.created_at
FROM locations l JOIN warehouses w ON w.id = l.warehouse_id`

func (r *repo) ListLocations(ctx context.Context, filters ListFilters) ([]Location, error) {
	var (
		conds []string
		args  []any
	)
	if filters.WarehouseID != nil {
		args = append(args, *filters.WarehouseID)
		conds = append(conds, fmt.Sprintf("l.warehouse_id = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conds = append(conds, fmt.Sprintf("(l.name ILIKE $%d OR l.short_code ILIKE $%d)", len(args), len(args)))
	}
	query := locationSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, shared.ClampLimit(filters.Limit))
	query += fmt.Sprintf(" ORDER BY w.short_code, l.short_code LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.WarehouseID, &l.WarehouseCode, &l.Name, &l.ShortCode, &l.CreatedAt); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (r *repo) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	var l Location
	err := r.db.QueryRow(ctx, locationSelect+` WHERE l.id = $1`, id).
		Scan(&l.ID, &l.WarehouseID, &l.WarehouseCode, &l.Name, &l.ShortCode, &l.CreatedAt)
	return l, notFound(err, "location", id)
}

func (r *repo) CreateLocation(ctx context.Context, l Location) (Location, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO locations (warehouse_id, name, short_code) VALUES ($1, $2, $3) RETURNING id, created_at`,
		l.WarehouseID, l.Name, l.ShortCode).Scan(&l.ID, &l.CreatedAt)
	return l, db.Classify(err)
}

const productSelect = `SELECT id, sku, name, category, unit_of_measure, reorder_level, created_at FROM products`

func (r *repo) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	query := productSelect
	var args []any
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` WHERE name ILIKE $1 OR sku ILIKE $1 OR category ILIKE $1`
	}
	args = append(args, shared.ClampLimit(filters.Limit))
	query += fmt.Sprintf(` ORDER BY name LIMIT $%d`, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UnitOfMeasure, &p.ReorderLevel, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *repo) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, productSelect+` WHERE id = $1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UnitOfMeasure, &p.ReorderLevel, &p.CreatedAt)
	return p, notFound(err, "product", id)
}

func (r *repo) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (r *repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO products (sku, name, category, unit_of_measure, reorder_level) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.SKU, p.Name, p.Category, p.UnitOfMeasure, p.ReorderLevel).Scan(&p.ID, &p.CreatedAt)
	return p, db.Classify(err)
}

func notFound(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &shared.NotFoundError{Entity: entity, ID: id.String()}
	}
	return err
}
