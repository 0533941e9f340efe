// Package inventorytest provides an in-memory ledger store for tests.
package inventorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// Store serialises transactions with one mutex, which is stricter than row
// locking and enough to exercise the posting rules. Failed transactions are
// rolled back from a snapshot.
type Store struct {
	mu       sync.Mutex
	balances map[inventory.Pair]inventory.Balance
	entries  []inventory.Entry
	seq      int64

	// FailInsert, when set, is consulted before every ledger insert.
	FailInsert func(inventory.Entry) error
}

// New returns an empty store.
func New() *Store {
	return &Store{balances: map[inventory.Pair]inventory.Balance{}}
}

// Tx is the transactional view handed to callbacks.
type Tx struct {
	s *Store
}

// Atomically runs fn under the store lock and undoes its writes on error.
func (s *Store) Atomically(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances := make(map[inventory.Pair]inventory.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	entries, seq := len(s.entries), s.seq
	if err := fn(&Tx{s: s}); err != nil {
		s.balances = balances
		s.entries = s.entries[:entries]
		s.seq = seq
		return err
	}
	return nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.Atomically(func(tx *Tx) error { return fn(ctx, tx) })
}

// LockBalance implements inventory.TxRepository.
func (tx *Tx) LockBalance(_ context.Context, productID, locationID uuid.UUID) (inventory.Balance, error) {
	pair := inventory.Pair{ProductID: productID, LocationID: locationID}
	bal, ok := tx.s.balances[pair]
	if !ok {
		bal = inventory.Balance{ProductID: productID, LocationID: locationID, Quantity: decimal.Zero, UpdatedAt: time.Now().UTC()}
		tx.s.balances[pair] = bal
	}
	return bal, nil
}

// InsertEntry implements inventory.TxRepository.
func (tx *Tx) InsertEntry(_ context.Context, entry inventory.Entry) (inventory.Entry, error) {
	if tx.s.FailInsert != nil {
		if err := tx.s.FailInsert(entry); err != nil {
			return inventory.Entry{}, err
		}
	}
	tx.s.seq++
	entry.Seq = tx.s.seq
	tx.s.entries = append(tx.s.entries, entry)
	return entry, nil
}

// SaveBalance implements inventory.TxRepository.
func (tx *Tx) SaveBalance(_ context.Context, balance inventory.Balance) error {
	tx.s.balances[inventory.Pair{ProductID: balance.ProductID, LocationID: balance.LocationID}] = balance
	return nil
}

// ListLedger implements inventory.RepositoryPort.
func (s *Store) ListLedger(_ context.Context, filter inventory.LedgerFilter) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := shared.ClampLimit(filter.Limit)
	out := []inventory.Entry{}
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if filter.ProductID != nil && e.ProductID != *filter.ProductID {
			continue
		}
		if filter.LocationID != nil && e.LocationID != *filter.LocationID {
			continue
		}
		if filter.DocumentID != nil && (e.DocumentID == nil || *e.DocumentID != *filter.DocumentID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListBalances implements inventory.RepositoryPort.
func (s *Store) ListBalances(_ context.Context, filter inventory.BalanceFilter) ([]inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Balance{}
	for _, pair := range s.sortedPairs() {
		bal := s.balances[pair]
		if filter.ProductID != nil && pair.ProductID != *filter.ProductID {
			continue
		}
		if filter.LocationID != nil && pair.LocationID != *filter.LocationID {
			continue
		}
		if filter.NonZero && bal.Quantity.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// GetBalance implements inventory.RepositoryPort.
func (s *Store) GetBalance(_ context.Context, pair inventory.Pair) (inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[pair]; ok {
		return bal, nil
	}
	return inventory.Balance{ProductID: pair.ProductID, LocationID: pair.LocationID}, nil
}

// PairEntries implements inventory.RepositoryPort.
func (s *Store) PairEntries(_ context.Context, pair inventory.Pair) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Entry
	for _, e := range s.entries {
		if e.ProductID == pair.ProductID && e.LocationID == pair.LocationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// DocumentEntries returns a document's entries in insertion order.
func (s *Store) DocumentEntries(_ context.Context, documentID uuid.UUID) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentEntries(documentID), nil
}

// DocumentEntries is the in-transaction variant.
func (tx *Tx) DocumentEntries(_ context.Context, documentID uuid.UUID) ([]inventory.Entry, error) {
	return tx.s.documentEntries(documentID), nil
}

func (s *Store) documentEntries(documentID uuid.UUID) []inventory.Entry {
	var out []inventory.Entry
	for _, e := range s.entries {
		if e.DocumentID != nil && *e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}

// Pairs implements inventory.RepositoryPort.
func (s *Store) Pairs(_ context.Context) ([]inventory.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPairs(), nil
}

// Entries returns a copy of every entry in insertion order.
func (s *Store) Entries() []inventory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Entry(nil), s.entries...)
}

// Quantity returns the projected balance of a pair.
func (s *Store) Quantity(productID, locationID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[inventory.Pair{ProductID: productID, LocationID: locationID}].Quantity
}

// SetBalance overwrites a balance without a ledger entry, for drift tests.
func (s *Store) SetBalance(productID, locationID uuid.UUID, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[inventory.Pair{ProductID: productID, LocationID: locationID}] = inventory.Balance{ProductID: productID, LocationID: locationID, Quantity: qty}
}

func (s *Store) sortedPairs() []inventory.Pair {
	out := make([]inventory.Pair, 0, len(s.balances))
	for p := range s.balances {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
