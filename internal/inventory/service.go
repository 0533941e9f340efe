package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLedger(ctx context.Context, filter LedgerFilter) ([]Entry, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	GetBalance(ctx context.Context, pair Pair) (Balance, error)
	PairEntries(ctx context.Context, pair Pair) ([]Entry, error)
	Pairs(ctx context.Context) ([]Pair, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer counts postings.
type Observer interface {
	ObservePosting(reason string, entries int)
}

// Service coordinates ledger operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	poster   Poster
	retry    db.RetryPolicy
	hooks    PostingHook
	observer Observer
	logger   *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Retry              db.RetryPolicy
	Hooks              PostingHook
	Observer           Observer
	Logger             *slog.Logger
	Now                func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		poster:   Poster{AllowNegative: cfg.AllowNegativeStock, Now: cfg.Now},
		retry:    cfg.Retry,
		hooks:    cfg.Hooks,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Poster returns the posting rules configured for this service.
func (s *Service) Poster() Poster { return s.poster }

// PostMovement posts a single movement in its own transaction.
func (s *Service) PostMovement(ctx context.Context, m Movement, actor string) (Entry, error) {
	if err := ValidateMovement(m); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			entry, err = s.poster.Post(ctx, tx, m)
			return err
		})
	})
	if err != nil {
		return Entry{}, fmt.Errorf("inventory: post movement: %w", err)
	}
	s.Committed(ctx, actor, PostedEvent{DocumentID: m.DocumentID, Entries: []Entry{entry}, PostedAt: entry.CreatedAt})
	return entry, nil
}

// Committed runs the post-commit side effects for a posting transaction.
func (s *Service) Committed(ctx context.Context, actor string, evt PostedEvent) {
	if len(evt.Entries) == 0 {
		return
	}
	if s.observer != nil {
		counts := map[Reason]int{}
		for _, e := range evt.Entries {
			counts[e.Reason]++
		}
		for reason, n := range counts {
			s.observer.ObservePosting(string(reason), n)
		}
	}
	if s.audit != nil {
		for _, e := range evt.Entries {
			if err := s.audit.Record(ctx, shared.AuditLog{
				Actor:    actor,
				Action:   "ledger:" + string(e.Reason),
				Entity:   "stock_ledger",
				EntityID: e.ID.String(),
				Meta: map[string]any{
					"product_id":    e.ProductID,
					"location_id":   e.LocationID,
					"qty_delta":     e.QtyDelta.String(),
					"balance_after": e.BalanceAfter.String(),
					"document_id":   e.DocumentID,
				},
			}); err != nil {
				s.logger.Warn("audit ledger entry", slog.String("entry_id", e.ID.String()), slog.Any("error", err))
			}
		}
	}
	if s.hooks != nil {
		if err := s.hooks.AfterPost(ctx, evt); err != nil {
			s.logger.Warn("posting hook failed", slog.Any("error", err))
		}
	}
}

// ListLedger lists ledger entries newest first.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]Entry, error) {
	return s.repo.ListLedger(ctx, filter)
}

// ListBalances lists balance rows.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return s.repo.ListBalances(ctx, filter)
}

// Available returns the current unlocked balance for a pair.
func (s *Service) Available(ctx context.Context, productID, locationID uuid.UUID) (decimal.Decimal, error) {
	bal, err := s.repo.GetBalance(ctx, Pair{ProductID: productID, LocationID: locationID})
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Quantity, nil
}

// Replay recomputes a pair from its ledger and compares it to the projection.
func (s *Service) Replay(ctx context.Context, pair Pair) (Drift, error) {
	entries, err := s.repo.PairEntries(ctx, pair)
	if err != nil {
		return Drift{}, err
	}
	bal, err := s.repo.GetBalance(ctx, pair)
	if err != nil {
		return Drift{}, err
	}
	return ReplayEntries(pair, entries, bal.Quantity), nil
}

// ReplayEntries checks the prefix-sum property of entries given in insertion order.
func ReplayEntries(pair Pair, entries []Entry, balance decimal.Decimal) Drift {
	d := Drift{Pair: pair, Entries: len(entries), Balance: balance, LedgerSum: decimal.Zero}
	for _, e := range entries {
		d.LedgerSum = d.LedgerSum.Add(e.QtyDelta)
		if d.FirstBadSeq == 0 && !d.LedgerSum.Equal(e.BalanceAfter) {
			d.FirstBadSeq = e.Seq
		}
	}
	return d
}

// Audit replays every pair and returns the inconsistent ones.
func (s *Service) Audit(ctx context.Context) ([]Drift, int, error) {
	pairs, err := s.repo.Pairs(ctx)
	if err != nil {
		return nil, 0, err
	}
	var drifts []Drift
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		d, err := s.Replay(ctx, pair)
		if err != nil {
			return nil, 0, fmt.Errorf("inventory: replay %s@%s: %w", pair.ProductID, pair.LocationID, err)
		}
		if !d.Consistent() {
			drifts = append(drifts, d)
		}
	}
	return drifts, len(pairs), nil
}
