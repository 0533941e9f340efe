// Package dashboard serves the inventory KPI summary shown on the landing page.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/platform/cache"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// Summary aggregates the headline counters.
type Summary struct {
	TotalProducts     int       `json:"total_products"`
	LowStockItems     int       `json:"low_stock_items"`
	PendingReceipts   int       `json:"pending_receipts"`
	PendingDeliveries int       `json:"pending_deliveries"`
	PendingTransfers  int       `json:"pending_transfers"`
	WaitingDocuments  int       `json:"waiting_documents"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// LowStock is a product whose total on-hand quantity is below its reorder level.
type LowStock struct {
	ProductID    uuid.UUID       `json:"product_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	OnHand       decimal.Decimal `json:"on_hand"`
	ReorderLevel int             `json:"reorder_level"`
}

// StatusCount is the number of documents of one type in one status.
type StatusCount struct {
	DocType string
	Status  string
	Count   int
}

// Repository exposes the aggregate queries.
type Repository interface {
	CountProducts(ctx context.Context) (int, error)
	StatusCounts(ctx context.Context) ([]StatusCount, error)
	CountLowStock(ctx context.Context) (int, error)
	LowStock(ctx context.Context, limit int) ([]LowStock, error)
}

// Service builds cached dashboard data.
type Service struct {
	repo   Repository
	cache  *cache.Versioned
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Repository with a cache. A nil cache disables caching.
func NewService(repo Repository, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger, now: time.Now}
}

// Summary returns the KPI summary, served from cache when warm.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.buildSummary(ctx)
	}, "summary")
	return out, err
}

// LowStock lists the products below their reorder level, most short first.
func (s *Service) LowStock(ctx context.Context, limit int) ([]LowStock, error) {
	limit = shared.ClampLimit(limit)
	var out []LowStock
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.LowStock(ctx, limit)
	}, "low-stock", fmt.Sprint(limit))
	return out, err
}

// Invalidate returns a posting hook that drops every cached view.
func (s *Service) Invalidate() inventory.PostingHook {
	return inventory.PostingHookFunc(func(ctx context.Context, _ inventory.PostedEvent) error {
		return s.cache.Bump(ctx)
	})
}

// DocumentsChanged drops every cached view after a document was created,
// edited, deleted or moved between statuses.
func (s *Service) DocumentsChanged(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.load(ctx, strings.Join(parts, ":"), dest, loader)
	}
	err = s.cache.FetchJSON(ctx, key, dest, func(ctx context.Context) (any, error) {
		return s.coalesce(ctx, key, loader)
	})
	var loadErr *loaderError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &loadErr):
		return loadErr.err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	s.logger.Warn("dashboard cache unavailable", slog.String("key", key), slog.Any("error", err))
	return s.load(ctx, key, dest, loader)
}

func (s *Service) load(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	value, err := s.coalesce(ctx, key, loader)
	if err != nil {
		var loadErr *loaderError
		if errors.As(err, &loadErr) {
			return loadErr.err
		}
		return err
	}
	return assign(dest, value)
}

// loaderError separates query failures from cache failures.
type loaderError struct{ err error }

func (e *loaderError) Error() string { return e.err.Error() }

func (e *loaderError) Unwrap() error { return e.err }

func (s *Service) coalesce(ctx context.Context, key string, loader func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, &loaderError{err: err}
		}
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func assign(dest, value any) error {
	switch d := dest.(type) {
	case *Summary:
		*d = value.(Summary)
	case *[]LowStock:
		*d = value.([]LowStock)
	default:
		return fmt.Errorf("dashboard: unsupported destination %T", dest)
	}
	return nil
}

func (s *Service) buildSummary(ctx context.Context) (Summary, error) {
	var (
		out    Summary
		counts []StatusCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.repo.CountProducts(gctx)
		out.TotalProducts = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountLowStock(gctx)
		out.LowStockItems = n
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.repo.StatusCounts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	for _, c := range counts {
		if c.Status == "WAITING" {
			out.WaitingDocuments += c.Count
		}
		if c.Status == "DONE" || c.Status == "CANCELLED" {
			continue
		}
		switch c.DocType {
		case "RECEIPT":
			out.PendingReceipts += c.Count
		case "DELIVERY":
			out.PendingDeliveries += c.Count
		case "TRANSFER":
			out.PendingTransfers += c.Count
		}
	}
	out.GeneratedAt = s.now().UTC()
	return out, nil
}
