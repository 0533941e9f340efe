package refs

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockops/internal/platform/db"
)

// PGCounter keeps sequences in reference_counters. Run inside the document
// creation transaction it is gap free: a rolled back creation rolls back the
// increment too. The upsert row lock serialises concurrent allocators.
type PGCounter struct {
	q db.Querier
}

// NewPGCounter binds the counter to a pool or a transaction.
func NewPGCounter(q db.Querier) *PGCounter {
	return &PGCounter{q: q}
}

// Next implements Counter.
func (c *PGCounter) Next(ctx context.Context, warehouseCode, operationCode string) (int64, error) {
	var next int64
	err := c.q.QueryRow(ctx, `INSERT INTO reference_counters (warehouse_code, operation_code, last_value, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (warehouse_code, operation_code)
DO UPDATE SET last_value = reference_counters.last_value + 1, updated_at = NOW()
RETURNING last_value`, warehouseCode, operationCode).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("refs: advance counter: %w", db.Classify(err))
	}
	return next, nil
}
