package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// TxRepository exposes the transactional operations used for posting.
type TxRepository interface {
	// LockBalance returns the balance row for the pair, creating a zero row
	// when missing, and holds a row lock until the transaction ends.
	LockBalance(ctx context.Context, productID, locationID uuid.UUID) (Balance, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	SaveBalance(ctx context.Context, balance Balance) error
}

// Poster applies movements inside a caller-owned transaction.
type Poster struct {
	AllowNegative bool
	Now           func() time.Time
}

func (p Poster) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidateMovement checks a movement before any lock is taken.
func ValidateMovement(m Movement) error {
	verr := &shared.ValidationError{}
	if m.ProductID == uuid.Nil {
		verr.Add("product_id", "required")
	}
	if m.LocationID == uuid.Nil {
		verr.Add("location_id", "required")
	}
	if m.QtyDelta.IsZero() {
		verr.Add("qty_delta", ErrInvalidQuantity.Error())
	}
	if !m.Reason.Valid() {
		verr.Add("reason", fmt.Sprintf("%s %q", ErrInvalidReason.Error(), m.Reason))
	}
	return verr.Err()
}

// Post applies a single movement.
func (p Poster) Post(ctx context.Context, tx TxRepository, m Movement) (Entry, error) {
	entries, err := p.PostBatch(ctx, tx, uuid.Nil, []Movement{m})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// PostBatch applies movements atomically with respect to the caller's
// transaction. Balance rows are locked in Pair order so concurrent batches
// touching overlapping pairs cannot deadlock. All balance checks run before
// the first write; a shortage returns *shared.InsufficientStockError with
// nothing written.
func (p Poster) PostBatch(ctx context.Context, tx TxRepository, documentID uuid.UUID, movements []Movement) ([]Entry, error) {
	if len(movements) == 0 {
		return nil, nil
	}
	for i, m := range movements {
		if err := ValidateMovement(m); err != nil {
			return nil, fmt.Errorf("inventory: movement %d: %w", i, err)
		}
	}

	balances, shortages, err := p.check(ctx, tx, movements)
	if err != nil {
		return nil, err
	}
	if len(shortages) > 0 {
		return nil, &shared.InsufficientStockError{DocumentID: documentID, Shortages: shortages}
	}

	now := p.now()
	current := make(map[Pair]decimal.Decimal, len(balances))
	for pair, bal := range balances {
		current[pair] = bal.Quantity
	}
	entries := make([]Entry, 0, len(movements))
	for _, m := range movements {
		pair := Pair{ProductID: m.ProductID, LocationID: m.LocationID}
		after := current[pair].Add(m.QtyDelta)
		current[pair] = after
		entry, err := tx.InsertEntry(ctx, Entry{
			ID:           uuid.New(),
			CreatedAt:    now,
			ProductID:    m.ProductID,
			LocationID:   m.LocationID,
			QtyDelta:     m.QtyDelta,
			BalanceAfter: after,
			Reason:       m.Reason,
			DocumentID:   m.DocumentID,
			ReferenceNo:  m.ReferenceNo,
		})
		if err != nil {
			return nil, fmt.Errorf("inventory: insert entry: %w", err)
		}
		entries = append(entries, entry)
	}
	for _, pair := range sortedPairs(current) {
		if err := tx.SaveBalance(ctx, Balance{ProductID: pair.ProductID, LocationID: pair.LocationID, Quantity: current[pair], UpdatedAt: now}); err != nil {
			return nil, fmt.Errorf("inventory: save balance: %w", err)
		}
	}
	return entries, nil
}

// Shortages locks the pairs touched by movements and reports, in movement
// order, every movement that would leave its balance negative. Nothing is
// written; the locks are held until the caller's transaction ends.
func (p Poster) Shortages(ctx context.Context, tx TxRepository, movements []Movement) ([]shared.Shortage, error) {
	_, shortages, err := p.check(ctx, tx, movements)
	return shortages, err
}

func (p Poster) check(ctx context.Context, tx TxRepository, movements []Movement) (map[Pair]Balance, []shared.Shortage, error) {
	balances, err := LockPairs(ctx, tx, pairsOf(movements))
	if err != nil {
		return nil, nil, err
	}
	running := make(map[Pair]decimal.Decimal, len(balances))
	for pair, bal := range balances {
		running[pair] = bal.Quantity
	}
	var shortages []shared.Shortage
	for _, m := range movements {
		pair := Pair{ProductID: m.ProductID, LocationID: m.LocationID}
		next := running[pair].Add(m.QtyDelta)
		if next.IsNegative() && m.QtyDelta.IsNegative() && !p.AllowNegative {
			shortages = append(shortages, shared.Shortage{
				ProductID:  m.ProductID,
				LocationID: m.LocationID,
				Required:   m.QtyDelta.Neg(),
				Available:  decimal.Max(running[pair], decimal.Zero),
			})
		}
		running[pair] = next
	}
	return balances, shortages, nil
}

// LockPairs locks the balance rows for pairs in deterministic order.
func LockPairs(ctx context.Context, tx TxRepository, pairs []Pair) (map[Pair]Balance, error) {
	ordered := append([]Pair(nil), pairs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })
	out := make(map[Pair]Balance, len(ordered))
	for _, pair := range ordered {
		if _, done := out[pair]; done {
			continue
		}
		bal, err := tx.LockBalance(ctx, pair.ProductID, pair.LocationID)
		if err != nil {
			return nil, fmt.Errorf("inventory: lock balance %s@%s: %w", pair.ProductID, pair.LocationID, err)
		}
		out[pair] = bal
	}
	return out, nil
}

// Reverse builds compensating movements for entries, newest first.
func Reverse(entries []Entry) []Movement {
	out := make([]Movement, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, Movement{
			ProductID:   e.ProductID,
			LocationID:  e.LocationID,
			QtyDelta:    e.QtyDelta.Neg(),
			Reason:      ReasonReversal,
			DocumentID:  e.DocumentID,
			ReferenceNo: e.ReferenceNo,
		})
	}
	return out
}

func pairsOf(movements []Movement) []Pair {
	out := make([]Pair, 0, len(movements))
	for _, m := range movements {
		out = append(out, Pair{ProductID: m.ProductID, LocationID: m.LocationID})
	}
	return out
}

func sortedPairs(m map[Pair]decimal.Decimal) []Pair {
	out := make([]Pair, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
