package inventory

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

// Repository persists the ledger and balance projection in PostgreSQL.
type Repository struct {
	pool db.Querier
	tx   db.TxBeginner
}

// PoolLike is satisfied by *pgxpool.Pool.
type PoolLike interface {
	db.Querier
	db.TxBeginner
}

// NewRepository constructs Repository.
func NewRepository(pool PoolLike) *Repository {
	return &Repository{pool: pool, tx: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository exposes the posting operations on an open transaction so
// other modules can post inside their own transactions.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.tx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, seq, created_at, product_id, location_id, qty_delta, balance_after, reason, document_id, reference_no`

// ListLedger returns entries newest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]Entry, error) {
	where, args := ledgerWhere(filter)
	args = append(args, shared.ClampLimit(filter.Limit))
	query := fmt.Sprintf(`SELECT %s FROM stock_ledger%s ORDER BY seq DESC LIMIT $%d`, entryColumns, where, len(args))
	return r.queryEntries(ctx, query, args...)
}

// PairEntries returns every entry of a pair in insertion order.
func (r *Repository) PairEntries(ctx context.Context, pair Pair) ([]Entry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM stock_ledger WHERE product_id=$1 AND location_id=$2 ORDER BY seq ASC`,
		pair.ProductID, pair.LocationID)
}

// DocumentEntries returns a document's entries in insertion order.
func (r *Repository) DocumentEntries(ctx context.Context, documentID uuid.UUID) ([]Entry, error) {
	return DocumentEntriesIn(ctx, r.pool, documentID)
}

// DocumentEntriesIn reads a document's entries through q, usually an open
// transaction that already holds the document lock.
func DocumentEntriesIn(ctx context.Context, q db.Querier, documentID uuid.UUID) ([]Entry, error) {
	return queryEntries(ctx, q, `SELECT `+entryColumns+` FROM stock_ledger WHERE document_id=$1 ORDER BY seq ASC`, documentID)
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	return queryEntries(ctx, r.pool, query, args...)
}

func queryEntries(ctx context.Context, q db.Querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListBalances returns balance rows ordered by product then location.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id=$%d", len(args)))
	}
	if filter.LocationID != nil {
		args = append(args, *filter.LocationID)
		conds = append(conds, fmt.Sprintf("location_id=$%d", len(args)))
	}
	if filter.NonZero {
		conds = append(conds, "quantity <> 0")
	}
	query := `SELECT product_id, location_id, quantity, updated_at FROM stock_balances`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY product_id, location_id"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.ProductID, &bal.LocationID, &bal.Quantity, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// GetBalance reads a balance without locking; a missing row reads as zero.
func (r *Repository) GetBalance(ctx context.Context, pair Pair) (Balance, error) {
	bal := Balance{ProductID: pair.ProductID, LocationID: pair.LocationID}
	err := r.pool.QueryRow(ctx, `SELECT quantity, updated_at FROM stock_balances WHERE product_id=$1 AND location_id=$2`,
		pair.ProductID, pair.LocationID).Scan(&bal.Quantity, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bal, nil
	}
	return bal, err
}

// Pairs lists every pair present in the ledger or the projection.
func (r *Repository) Pairs(ctx context.Context) ([]Pair, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, location_id FROM stock_balances
UNION SELECT DISTINCT product_id, location_id FROM stock_ledger
ORDER BY 1, 2`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.ProductID, &p.LocationID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *txRepository) LockBalance(ctx context.Context, productID, locationID uuid.UUID) (Balance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, location_id, quantity, updated_at)
VALUES ($1, $2, 0, NOW()) ON CONFLICT (product_id, location_id) DO NOTHING`, productID, locationID); err != nil {
		return Balance{}, db.Classify(err)
	}
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT product_id, location_id, quantity, updated_at FROM stock_balances
WHERE product_id=$1 AND location_id=$2 FOR UPDATE`, productID, locationID).
		Scan(&bal.ProductID, &bal.LocationID, &bal.Quantity, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ProductID: productID, LocationID: locationID}, ErrBalanceNotFound
		}
		return Balance{}, db.Classify(err)
	}
	return bal, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (id, created_at, product_id, location_id, qty_delta, balance_after, reason, document_id, reference_no)
VALUES ($1, clock_timestamp(), $2, $3, $4, $5, $6, $7, $8) RETURNING seq, created_at`,
		entry.ID, entry.ProductID, entry.LocationID, entry.QtyDelta, entry.BalanceAfter, string(entry.Reason), entry.DocumentID, entry.ReferenceNo).
		Scan(&entry.Seq, &entry.CreatedAt)
	return entry, db.Classify(err)
}

func (r *txRepository) SaveBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, location_id, quantity, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id, location_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		balance.ProductID, balance.LocationID, balance.Quantity)
	return db.Classify(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry  Entry
		reason string
	)
	if err := row.Scan(&entry.ID, &entry.Seq, &entry.CreatedAt, &entry.ProductID, &entry.LocationID,
		&entry.QtyDelta, &entry.BalanceAfter, &reason, &entry.DocumentID, &entry.ReferenceNo); err != nil {
		return Entry{}, err
	}
	entry.Reason = Reason(reason)
	return entry, nil
}

func ledgerWhere(filter LedgerFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id=$%d", len(args)))
	}
	if filter.LocationID != nil {
		args = append(args, *filter.LocationID)
		conds = append(conds, fmt.Sprintf("location_id=$%d", len(args)))
	}
	if filter.DocumentID != nil {
		args = append(args, *filter.DocumentID)
		conds = append(conds, fmt.Sprintf("document_id=$%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
