package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockops/internal/shared"
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type recordingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *recordingObserver) ObservePosting(reason string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[reason] += n
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestPostMovementKeepsPrefixSums(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	product, location := uuid.New(), uuid.New()

	deltas := []int64{10, -3, 5, -12, 7, 1, -8}
	var sum decimal.Decimal
	for _, d := range deltas {
		entry, err := svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: location, QtyDelta: qty(d), Reason: inventory.ReasonAdjustment}, "tester")
		require.NoError(t, err)
		sum = sum.Add(qty(d))
		require.True(t, sum.Equal(entry.BalanceAfter), "balance_after %s, want %s", entry.BalanceAfter, sum)
	}
	require.True(t, store.Quantity(product, location).Equal(sum))

	drift, err := svc.Replay(ctx, inventory.Pair{ProductID: product, LocationID: location})
	require.NoError(t, err)
	require.True(t, drift.Consistent())
	require.Equal(t, len(deltas), drift.Entries)
}

func TestPostMovementRejectsNegativeBalance(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	product, location := uuid.New(), uuid.New()

	_, err := svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: location, QtyDelta: qty(3), Reason: inventory.ReasonReceipt}, "")
	require.NoError(t, err)

	_, err = svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: location, QtyDelta: qty(-5), Reason: inventory.ReasonDelivery}, "")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	require.Len(t, stock.Shortages, 1)
	require.True(t, stock.Shortages[0].Available.Equal(qty(3)))
	require.True(t, stock.Shortages[0].Required.Equal(qty(5)))

	require.Len(t, store.Entries(), 1)
	require.True(t, store.Quantity(product, location).Equal(qty(3)))
}

func TestPostMovementAllowNegative(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{AllowNegativeStock: true})
	entry, err := svc.PostMovement(context.Background(), inventory.Movement{ProductID: uuid.New(), LocationID: uuid.New(), QtyDelta: qty(-2), Reason: inventory.ReasonAdjustment}, "")
	require.NoError(t, err)
	require.True(t, entry.BalanceAfter.Equal(qty(-2)))
}

func TestValidateMovement(t *testing.T) {
	err := inventory.ValidateMovement(inventory.Movement{Reason: "BOGUS"})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "product_id")
	require.Contains(t, verr.Fields, "location_id")
	require.Contains(t, verr.Fields, "qty_delta")
	require.Contains(t, verr.Fields, "reason")
}

func TestPostBatchIsAllOrNothing(t *testing.T) {
	store := inventorytest.New()
	product, from, to := uuid.New(), uuid.New(), uuid.New()
	poster := inventory.Poster{}
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := poster.Post(ctx, tx, inventory.Movement{ProductID: product, LocationID: from, QtyDelta: qty(10), Reason: inventory.ReasonReceipt})
		return err
	}))

	boom := errors.New("disk full")
	store.FailInsert = func(e inventory.Entry) error {
		if e.LocationID == to {
			return boom
		}
		return nil
	}
	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := poster.PostBatch(ctx, tx, uuid.New(), []inventory.Movement{
			{ProductID: product, LocationID: from, QtyDelta: qty(-10), Reason: inventory.ReasonTransferOut},
			{ProductID: product, LocationID: to, QtyDelta: qty(10), Reason: inventory.ReasonTransferIn},
		})
		return err
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, store.Entries(), 1)
	require.True(t, store.Quantity(product, from).Equal(qty(10)))
	require.True(t, store.Quantity(product, to).IsZero())
}

func TestPostBatchChecksCumulativeDemand(t *testing.T) {
	store := inventorytest.New()
	product, loc := uuid.New(), uuid.New()
	poster := inventory.Poster{}
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := poster.Post(ctx, tx, inventory.Movement{ProductID: product, LocationID: loc, QtyDelta: qty(5), Reason: inventory.ReasonReceipt})
		return err
	}))

	docID := uuid.New()
	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := poster.PostBatch(ctx, tx, docID, []inventory.Movement{
			{ProductID: product, LocationID: loc, QtyDelta: qty(-3), Reason: inventory.ReasonDelivery},
			{ProductID: product, LocationID: loc, QtyDelta: qty(-3), Reason: inventory.ReasonDelivery},
		})
		return err
	})
	var stock *shared.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	require.Equal(t, docID, stock.DocumentID)
	require.Len(t, stock.Shortages, 1)
	require.True(t, stock.Shortages[0].Available.Equal(qty(2)))
	require.Len(t, store.Entries(), 1)
}

func TestConcurrentPostingsNeverOverdraw(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	product, loc := uuid.New(), uuid.New()
	_, err := svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: loc, QtyDelta: qty(20), Reason: inventory.ReasonReceipt}, "")
	require.NoError(t, err)

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: loc, QtyDelta: qty(-1), Reason: inventory.ReasonDelivery}, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 20, ok.Load())
	require.EqualValues(t, 30, short.Load())
	require.True(t, store.Quantity(product, loc).IsZero())

	drifts, pairs, err := svc.Audit(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pairs)
	require.Empty(t, drifts)
}

func TestListLedgerNewestFirstWithFilters(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	p1, p2, loc := uuid.New(), uuid.New(), uuid.New()
	doc := uuid.New()
	for _, m := range []inventory.Movement{
		{ProductID: p1, LocationID: loc, QtyDelta: qty(1), Reason: inventory.ReasonReceipt, DocumentID: &doc},
		{ProductID: p2, LocationID: loc, QtyDelta: qty(2), Reason: inventory.ReasonReceipt},
		{ProductID: p1, LocationID: loc, QtyDelta: qty(3), Reason: inventory.ReasonReceipt},
	} {
		_, err := svc.PostMovement(ctx, m, "")
		require.NoError(t, err)
	}

	all, err := svc.ListLedger(ctx, inventory.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Greater(t, all[0].Seq, all[1].Seq)
	require.Greater(t, all[1].Seq, all[2].Seq)

	byProduct, err := svc.ListLedger(ctx, inventory.LedgerFilter{ProductID: &p1})
	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	require.True(t, byProduct[0].QtyDelta.Equal(qty(3)))

	byDoc, err := svc.ListLedger(ctx, inventory.LedgerFilter{DocumentID: &doc})
	require.NoError(t, err)
	require.Len(t, byDoc, 1)

	limited, err := svc.ListLedger(ctx, inventory.LedgerFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestAuditDetectsDrift(t *testing.T) {
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	product, loc := uuid.New(), uuid.New()
	_, err := svc.PostMovement(ctx, inventory.Movement{ProductID: product, LocationID: loc, QtyDelta: qty(4), Reason: inventory.ReasonReceipt}, "")
	require.NoError(t, err)
	store.SetBalance(product, loc, qty(9))

	drifts, _, err := svc.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.True(t, drifts[0].LedgerSum.Equal(qty(4)))
	require.True(t, drifts[0].Balance.Equal(qty(9)))
}

func TestReplayEntriesFlagsBrokenSnapshot(t *testing.T) {
	pair := inventory.Pair{ProductID: uuid.New(), LocationID: uuid.New()}
	d := inventory.ReplayEntries(pair, []inventory.Entry{
		{Seq: 1, QtyDelta: qty(5), BalanceAfter: qty(5)},
		{Seq: 2, QtyDelta: qty(-2), BalanceAfter: qty(4)},
	}, qty(3))
	require.False(t, d.Consistent())
	require.EqualValues(t, 2, d.FirstBadSeq)
}

func TestCommittedSideEffects(t *testing.T) {
	store := inventorytest.New()
	obs := &recordingObserver{}
	audit := &recordingAudit{}
	var events []inventory.PostedEvent
	hook := inventory.PostingHookFunc(func(_ context.Context, evt inventory.PostedEvent) error {
		events = append(events, evt)
		return errors.New("hooks never fail the posting")
	})
	svc := inventory.NewService(store, audit, inventory.ServiceConfig{Observer: obs, Hooks: inventory.Hooks{hook}})
	product, loc := uuid.New(), uuid.New()

	_, err := svc.PostMovement(context.Background(), inventory.Movement{ProductID: product, LocationID: loc, QtyDelta: qty(2), Reason: inventory.ReasonReceipt}, "ops@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, obs.counts["RECEIPT"])
	require.Len(t, audit.logs, 1)
	require.Equal(t, "ops@example.com", audit.logs[0].Actor)
	require.Len(t, events, 1)
	require.Equal(t, []inventory.Pair{{ProductID: product, LocationID: loc}}, events[0].Increases())
}

func TestReverseBuildsCompensation(t *testing.T) {
	doc := uuid.New()
	entries := []inventory.Entry{
		{ProductID: uuid.New(), LocationID: uuid.New(), QtyDelta: qty(-4), Reason: inventory.ReasonTransferOut, DocumentID: &doc, ReferenceNo: "WH/INT/001"},
		{ProductID: uuid.New(), LocationID: uuid.New(), QtyDelta: qty(4), Reason: inventory.ReasonTransferIn, DocumentID: &doc, ReferenceNo: "WH/INT/001"},
	}
	rev := inventory.Reverse(entries)
	require.Len(t, rev, 2)
	require.True(t, rev[0].QtyDelta.Equal(qty(-4)))
	require.Equal(t, entries[1].LocationID, rev[0].LocationID)
	require.True(t, rev[1].QtyDelta.Equal(qty(4)))
	for _, m := range rev {
		require.Equal(t, inventory.ReasonReversal, m.Reason)
		require.Equal(t, &doc, m.DocumentID)
	}
}
