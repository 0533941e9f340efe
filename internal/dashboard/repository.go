package dashboard

import (
	"context"

	"github.com/odyssey-erp/stockops/internal/platform/db"
)

// PGRepository runs the dashboard aggregates against PostgreSQL.
type PGRepository struct {
	db db.Querier
}

// NewRepository constructs PGRepository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{db: q}
}

const onHandSQL = `SELECT p.id, p.sku, p.name, COALESCE(SUM(b.quantity), 0) AS on_hand, p.reorder_level
FROM products p
LEFT JOIN stock_balances b ON b.product_id = p.id
GROUP BY p.id, p.sku, p.name, p.reorder_level
HAVING COALESCE(SUM(b.quantity), 0) < p.reorder_level`

func (r *PGRepository) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (r *PGRepository) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.db.Query(ctx, `SELECT doc_type, status, COUNT(*) FROM documents GROUP BY doc_type, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.DocType, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PGRepository) CountLowStock(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM (`+onHandSQL+`) low`).Scan(&n)
	return n, err
}

func (r *PGRepository) LowStock(ctx context.Context, limit int) ([]LowStock, error) {
	rows, err := r.db.Query(ctx, onHandSQL+`
ORDER BY COALESCE(SUM(b.quantity), 0) - p.reorder_level ASC, p.sku ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LowStock{}
	for rows.Next() {
		var ls LowStock
		if err := rows.Scan(&ls.ProductID, &ls.SKU, &ls.Name, &ls.OnHand, &ls.ReorderLevel); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}
