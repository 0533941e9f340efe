package documents

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/platform/db/dbtest"
)

type pgFixture struct {
	svc      *Service
	ledger   *inventory.Service
	location uuid.UUID
	product  uuid.UUID
}

func newPGFixture(t *testing.T, pool *pgxpool.Pool) *pgFixture {
	t.Helper()
	seed := dbtest.Seed(t, pool, "MAIN", 1, 1)
	retry := db.RetryPolicy{MaxAttempts: 20, Backoff: time.Millisecond}
	ledger := inventory.NewService(inventory.NewRepository(pool), nil, inventory.ServiceConfig{Retry: retry})
	lookup := masterdata.NewService(masterdata.NewRepository(pool))
	return &pgFixture{
		svc:      NewService(NewRepository(pool), lookup, ledger, Config{Retry: retry}),
		ledger:   ledger,
		location: uuid.MustParse(seed.Locations[0]),
		product:  uuid.MustParse(seed.Products[0]),
	}
}

func (f *pgFixture) receipt(t *testing.T, n int64) Document {
	t.Helper()
	doc, err := f.svc.Create(ctxAs(), ReceiptPayload{
		Supplier: "Acme",
		Lines:    []LineInput{{ProductID: f.product, QtyDone: qty(n), LocationTo: ptr(f.location)}},
	}, "")
	require.NoError(t, err)
	return doc
}

func (f *pgFixture) delivery(t *testing.T, n int64) Document {
	t.Helper()
	doc, err := f.svc.Create(ctxAs(), DeliveryPayload{
		Customer: "Globex",
		Lines:    []LineInput{{ProductID: f.product, QtyDone: qty(n), LocationFrom: ptr(f.location)}},
	}, "")
	require.NoError(t, err)
	return doc
}

func TestPostgresConcurrentCreateAllocatesGapFreeReferences(t *testing.T) {
	pool := dbtest.Start(t)
	f := newPGFixture(t, pool)

	const n = 100
	var wg sync.WaitGroup
	docs := make([]Document, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := f.svc.Create(ctxAs(), DeliveryPayload{
				Lines: []LineInput{{ProductID: f.product, QtyDone: qty(1), LocationFrom: ptr(f.location)}},
			}, "")
			assert.NoError(t, err)
			docs[i] = doc
		}(i)
	}
	wg.Wait()

	want := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		want = append(want, fmt.Sprintf("MAIN/OUT/%03d", i))
	}
	require.Equal(t, want, sortedRefs(docs))

	var stored int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM documents WHERE doc_type='DELIVERY'`).Scan(&stored))
	require.Equal(t, n, stored)
	var last int64
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT last_value FROM reference_counters WHERE warehouse_code='MAIN' AND operation_code='OUT'`).Scan(&last))
	require.EqualValues(t, n, last)
}

func TestPostgresConcurrentDeliveriesSplitDoneAndWaiting(t *testing.T) {
	pool := dbtest.Start(t)
	f := newPGFixture(t, pool)
	ctx := ctxAs()

	_, err := f.svc.Validate(ctx, f.receipt(t, 10).ID)
	require.NoError(t, err)
	first, second := f.delivery(t, 7), f.delivery(t, 7)

	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Validate(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	statuses := map[Status]int{}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		doc, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		statuses[doc.Status]++
	}
	require.Equal(t, map[Status]int{StatusDone: 1, StatusWaiting: 1}, statuses)

	onHand, err := f.ledger.Available(ctx, f.product, f.location)
	require.NoError(t, err)
	require.True(t, onHand.Equal(qty(3)), "on hand %s", onHand)

	drift, err := f.ledger.Replay(ctx, inventory.Pair{ProductID: f.product, LocationID: f.location})
	require.NoError(t, err)
	require.True(t, drift.Consistent())
	require.Equal(t, 2, drift.Entries)
}

func TestPostgresCancelDoneReceiptPostsReversal(t *testing.T) {
	pool := dbtest.Start(t)
	f := newPGFixture(t, pool)
	ctx := ctxAs()

	doc := f.receipt(t, 5)
	notes := "pallet damaged"
	edited, err := f.svc.UpdateHeader(ctx, doc.ID, HeaderPatch{Notes: &notes})
	require.NoError(t, err)
	stored, err := f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, stored.UpdatedAt.Equal(edited.UpdatedAt), "returned %s stored %s", edited.UpdatedAt, stored.UpdatedAt)

	_, err = f.svc.Validate(ctx, doc.ID)
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	stored, err = f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	require.True(t, stored.UpdatedAt.Equal(cancelled.UpdatedAt))

	entries, err := f.ledger.ListLedger(ctx, inventory.LedgerFilter{DocumentID: &doc.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	deltas := map[inventory.Reason]int64{}
	for _, e := range entries {
		deltas[e.Reason] = e.QtyDelta.IntPart()
	}
	require.Equal(t, map[inventory.Reason]int64{inventory.ReasonReceipt: 5, inventory.ReasonReversal: -5}, deltas)

	onHand, err := f.ledger.Available(ctx, f.product, f.location)
	require.NoError(t, err)
	require.True(t, onHand.IsZero(), "on hand %s", onHand)

	_, err = f.svc.Cancel(ctx, doc.ID)
	require.Error(t, err)
}
