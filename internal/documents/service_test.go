package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/shared"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	ledger   *inventorytest.Store
	audit    *memoryAudit
	observer *countingObserver
	idem     *memoryIdempotency

	l1, l2, other uuid.UUID
	productA      uuid.UUID
	productB      uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   inventorytest.New(),
		audit:    &memoryAudit{},
		observer: &countingObserver{outcomes: map[string]int{}},
		idem:     &memoryIdempotency{keys: map[string]string{}},
		l1:       uuid.New(),
		l2:       uuid.New(),
		other:    uuid.New(),
		productA: uuid.New(),
		productB: uuid.New(),
	}
	f.repo = newMemoryRepo(f.ledger)
	warehouse, remote := uuid.New(), uuid.New()
	lookup := &memoryLookup{
		locations: map[uuid.UUID]masterdata.Location{
			f.l1:    {ID: f.l1, WarehouseID: warehouse, WarehouseCode: "WH", ShortCode: "STK"},
			f.l2:    {ID: f.l2, WarehouseID: warehouse, WarehouseCode: "WH", ShortCode: "SHELF"},
			f.other: {ID: f.other, WarehouseID: remote, WarehouseCode: "EU", ShortCode: "STK"},
		},
		products: map[uuid.UUID]masterdata.Product{
			f.productA: {ID: f.productA, SKU: "A"},
			f.productB: {ID: f.productB, SKU: "B"},
		},
	}
	ledger := inventory.NewService(f.ledger, nil, inventory.ServiceConfig{Now: func() time.Time { return fixedNow }})
	cfg := Config{
		Idempotency: f.idem,
		Audit:       f.audit,
		Observer:    f.observer,
		Now:         func() time.Time { return fixedNow },
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	f.svc = NewService(f.repo, lookup, ledger, cfg)
	return f
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func ctxAs() context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{UserID: "u-1", Email: "clerk@example.com"})
}

func (f *fixture) receipt(t *testing.T, product, loc uuid.UUID, n int64) Document {
	t.Helper()
	doc, err := f.svc.Create(ctxAs(), ReceiptPayload{
		Supplier: "Acme",
		Lines:    []LineInput{{ProductID: product, QtyExpected: qty(n), QtyDone: qty(n), LocationTo: ptr(loc)}},
	}, "")
	require.NoError(t, err)
	return doc
}

func (f *fixture) stock(t *testing.T, product, loc uuid.UUID, n int64) {
	t.Helper()
	doc := f.receipt(t, product, loc, n)
	_, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
}

func (f *fixture) delivery(t *testing.T, product, loc uuid.UUID, n int64) Document {
	t.Helper()
	doc, err := f.svc.Create(ctxAs(), DeliveryPayload{
		Customer: "Globex",
		Lines:    []LineInput{{ProductID: product, QtyExpected: qty(n), QtyDone: qty(n), LocationFrom: ptr(loc)}},
	}, "")
	require.NoError(t, err)
	return doc
}

func TestValidateReceiptPostsSingleEntry(t *testing.T) {
	f := newFixture(t)
	doc := f.receipt(t, f.productA, f.l1, 5)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "WH/IN/001", doc.ReferenceNo)
	require.Equal(t, "clerk@example.com", doc.Responsible)

	res, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.Equal(t, 1, res.Posted)
	require.Empty(t, res.Shortages)

	entries := f.ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, f.productA, entries[0].ProductID)
	require.Equal(t, f.l1, entries[0].LocationID)
	require.True(t, entries[0].QtyDelta.Equal(qty(5)))
	require.Equal(t, inventory.ReasonReceipt, entries[0].Reason)
	require.Equal(t, doc.ID, *entries[0].DocumentID)
	require.Equal(t, "WH/IN/001", entries[0].ReferenceNo)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(5)))

	stored, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, stored.Status)
	require.NotNil(t, stored.ValidatedAt)
	require.Equal(t, []string{"DRAFT->DONE"}, f.audit.transitions(doc.ID))
	require.Equal(t, 1, f.observer.count("RECEIPT:done"))
}

func TestValidateDeliveryShortFallsBackToWaiting(t *testing.T) {
	f := newFixture(t)
	f.stock(t, f.productA, f.l1, 3)
	before := len(f.ledger.Entries())

	doc := f.delivery(t, f.productA, f.l1, 5)
	res, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Document.Status)
	require.Zero(t, res.Posted)
	require.Len(t, res.Shortages, 1)
	require.Equal(t, doc.Lines[0].ID, res.Shortages[0].LineID)
	require.True(t, res.Shortages[0].Required.Equal(qty(5)))
	require.True(t, res.Shortages[0].Available.Equal(qty(3)))

	require.Len(t, f.ledger.Entries(), before)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(3)))
	stored, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, stored.Status)
	require.Equal(t, []string{"DRAFT->WAITING"}, f.audit.transitions(doc.ID))
	require.Equal(t, 1, f.observer.count("DELIVERY:waiting"))

	// a second attempt stays WAITING without a new transition
	res, err = f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Document.Status)
	require.Len(t, f.audit.transitions(doc.ID), 1)
}

func TestValidateTransferPostsBothLegsOrNeither(t *testing.T) {
	f := newFixture(t)
	f.stock(t, f.productA, f.l1, 20)

	transfer := func() Document {
		doc, err := f.svc.Create(ctxAs(), TransferPayload{
			Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(10), LocationFrom: ptr(f.l1), LocationTo: ptr(f.l2)}},
		}, "")
		require.NoError(t, err)
		return doc
	}

	doc := transfer()
	require.Equal(t, "WH/INT/001", doc.ReferenceNo)
	res, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.Equal(t, 2, res.Posted)

	var legs []inventory.Entry
	for _, e := range f.ledger.Entries() {
		if e.DocumentID != nil && *e.DocumentID == doc.ID {
			legs = append(legs, e)
		}
	}
	require.Len(t, legs, 2)
	require.Equal(t, inventory.ReasonTransferOut, legs[0].Reason)
	require.Equal(t, f.l1, legs[0].LocationID)
	require.True(t, legs[0].QtyDelta.Equal(qty(-10)))
	require.Equal(t, inventory.ReasonTransferIn, legs[1].Reason)
	require.Equal(t, f.l2, legs[1].LocationID)
	require.True(t, legs[1].QtyDelta.Equal(qty(10)))

	failing := transfer()
	before := len(f.ledger.Entries())
	f.ledger.FailInsert = func(e inventory.Entry) error {
		if e.Reason == inventory.ReasonTransferIn {
			return errors.New("disk full")
		}
		return nil
	}
	_, err = f.svc.Validate(ctxAs(), failing.ID)
	require.Error(t, err)
	f.ledger.FailInsert = nil

	require.Len(t, f.ledger.Entries(), before)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(10)))
	require.True(t, f.ledger.Quantity(f.productA, f.l2).Equal(qty(10)))
	stored, err := f.svc.Get(context.Background(), failing.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Equal(t, 1, f.observer.count("TRANSFER:rejected"))
}

func TestValidateTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	doc := f.receipt(t, f.productA, f.l1, 5)
	_, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctxAs(), doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	var stateErr *shared.StateError
	require.True(t, errors.As(err, &stateErr))
	require.Equal(t, "DONE", stateErr.Status)
	require.Len(t, f.ledger.Entries(), 1)
}

func TestValidateUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Validate(ctxAs(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentDeliveriesNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.stock(t, f.productA, f.l1, 5)
	first := f.delivery(t, f.productA, f.l1, 4)
	second := f.delivery(t, f.productA, f.l1, 4)

	var wg sync.WaitGroup
	results := make([]ValidateResult, 2)
	for i, doc := range []Document{first, second} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			res, err := f.svc.Validate(ctxAs(), id)
			assert.NoError(t, err)
			results[i] = res
		}(i, doc.ID)
	}
	wg.Wait()

	statuses := map[Status]int{}
	for _, r := range results {
		statuses[r.Document.Status]++
	}
	require.Equal(t, map[Status]int{StatusDone: 1, StatusWaiting: 1}, statuses)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(1)))
}

func TestConcurrentCreateAllocatesGapFreeReferences(t *testing.T) {
	f := newFixture(t)
	const n = 100
	var wg sync.WaitGroup
	docs := make([]Document, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := f.svc.Create(ctxAs(), DeliveryPayload{
				Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(1), LocationFrom: ptr(f.l1)}},
			}, "")
			assert.NoError(t, err)
			docs[i] = doc
		}(i)
	}
	wg.Wait()

	want := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		want = append(want, fmt.Sprintf("WH/OUT/%03d", i))
	}
	require.Equal(t, want, sortedRefs(docs))
	require.EqualValues(t, n, f.repo.createTxs.Load(), "every create runs in the creation transaction")
}

func TestCreateUsesPrimaryLocationWarehouse(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(ctxAs(), AdjustmentPayload{
		Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(-1), LocationTo: ptr(f.other)}},
	}, "")
	require.NoError(t, err)
	require.Equal(t, "EU/ADJ/001", doc.ReferenceNo)
}

func TestCreateRejectsWrongDirections(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(ctxAs(), DeliveryPayload{
		Lines: []LineInput{
			{ProductID: f.productA, QtyDone: qty(1), LocationTo: ptr(f.l1)},
			{ProductID: f.productA, QtyDone: qty(-1), LocationFrom: ptr(f.l1)},
		},
	}, "")
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "required for DELIVERY", verr.Fields["lines[0].location_from"])
	require.Equal(t, "not allowed for DELIVERY", verr.Fields["lines[0].location_to"])
	require.Equal(t, "must be at least 0", verr.Fields["lines[1].qty_done"])

	_, err = f.svc.Create(ctxAs(), TransferPayload{
		Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(1), LocationFrom: ptr(f.l1), LocationTo: ptr(f.l1)}},
	}, "")
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "must differ from location_from", verr.Fields["lines[0].location_to"])

	_, err = f.svc.Create(ctxAs(), ReceiptPayload{}, "")
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "required", verr.Fields["lines"])
	require.Zero(t, f.repo.count())
}

func TestCreateRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(ctxAs(), ReceiptPayload{
		Lines: []LineInput{{ProductID: uuid.New(), QtyDone: qty(1), LocationTo: ptr(f.l1)}},
	}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Create(ctxAs(), ReceiptPayload{
		Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(1), LocationTo: ptr(uuid.New())}},
	}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, f.repo.count())
}

func TestCreateFailsAtomicallyWhenAllocationFails(t *testing.T) {
	f := newFixture(t)
	f.repo.failCounter = errors.New("counter table locked out")
	_, err := f.svc.Create(ctxAs(), ReceiptPayload{
		Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(1), LocationTo: ptr(f.l1)}},
	}, "key-1")
	require.ErrorIs(t, err, shared.ErrAllocation)
	require.Zero(t, f.repo.count())
	_, ok, _ := f.idem.Lookup(context.Background(), "key-1")
	require.False(t, ok)

	ext := newFixture(t, func(c *Config) { c.Counter = failingCounter{} })
	_, err = ext.svc.Create(ctxAs(), ReceiptPayload{
		Lines: []LineInput{{ProductID: ext.productA, QtyDone: qty(1), LocationTo: ptr(ext.l1)}},
	}, "")
	require.ErrorIs(t, err, shared.ErrAllocation)
	require.Zero(t, ext.repo.count())
}

func TestCreateIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	payload := ReceiptPayload{Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(1), LocationTo: ptr(f.l1)}}}
	first, err := f.svc.Create(ctxAs(), payload, "req-42")
	require.NoError(t, err)
	again, err := f.svc.Create(ctxAs(), payload, "req-42")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 1, f.repo.count())

	other, err := f.svc.Create(ctxAs(), payload, "req-43")
	require.NoError(t, err)
	require.Equal(t, "WH/IN/002", other.ReferenceNo)
}

func TestCancelDoneDocumentPostsReversal(t *testing.T) {
	f := newFixture(t)
	doc := f.receipt(t, f.productA, f.l1, 5)
	_, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	entries := f.ledger.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, inventory.ReasonReversal, entries[1].Reason)
	require.True(t, entries[1].QtyDelta.Equal(qty(-5)))
	require.True(t, entries[1].BalanceAfter.IsZero())
	require.Equal(t, doc.ID, *entries[1].DocumentID)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).IsZero())
	require.Equal(t, []string{"DRAFT->DONE", "DONE->CANCELLED"}, f.audit.transitions(doc.ID))

	_, err = f.svc.Cancel(ctxAs(), doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, f.ledger.Entries(), 2)
}

func TestCancelDoneReceiptWhoseStockLeftFails(t *testing.T) {
	f := newFixture(t)
	doc := f.receipt(t, f.productA, f.l1, 5)
	_, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	out := f.delivery(t, f.productA, f.l1, 4)
	_, err = f.svc.Validate(ctxAs(), out.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctxAs(), doc.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	stored, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, stored.Status)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(1)))
}

func TestCancelNonDoneDocuments(t *testing.T) {
	f := newFixture(t)
	doc := f.delivery(t, f.productA, f.l1, 2)
	confirmed, err := f.svc.Confirm(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, confirmed.Status)

	cancelled, err := f.svc.Cancel(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, f.ledger.Entries())

	_, err = f.svc.Validate(ctxAs(), doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestConfirmAndRecheckWaiting(t *testing.T) {
	f := newFixture(t)
	receipt := f.receipt(t, f.productA, f.l1, 1)
	ready, err := f.svc.Confirm(ctxAs(), receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReady, ready.Status)
	_, err = f.svc.Confirm(ctxAs(), receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	out := f.delivery(t, f.productA, f.l2, 3)
	waiting, err := f.svc.Confirm(ctxAs(), out.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, waiting.Status)

	n, err := f.svc.RecheckWaiting(context.Background(), &inventory.Pair{ProductID: f.productA, LocationID: f.l2})
	require.NoError(t, err)
	require.Zero(t, n)

	f.stock(t, f.productA, f.l2, 3)
	n, err = f.svc.RecheckWaiting(context.Background(), &inventory.Pair{ProductID: f.productA, LocationID: f.l2})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	stored, err := f.svc.Get(context.Background(), out.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReady, stored.Status)
	require.Equal(t, []string{"DRAFT->WAITING", "WAITING->READY"}, f.audit.transitions(out.ID))

	res, err := f.svc.Validate(ctxAs(), out.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.True(t, f.ledger.Quantity(f.productA, f.l2).IsZero())
}

func TestConfirmAdjustmentIsRejected(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(ctxAs(), AdjustmentPayload{
		Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(4), LocationTo: ptr(f.l1)}},
	}, "")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctxAs(), doc.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdjustmentPostsSignedDelta(t *testing.T) {
	f := newFixture(t)
	f.stock(t, f.productA, f.l1, 5)
	adjust := func(n int64) (ValidateResult, error) {
		doc, err := f.svc.Create(ctxAs(), AdjustmentPayload{
			Lines: []LineInput{{ProductID: f.productA, QtyDone: qty(n), LocationTo: ptr(f.l1)}},
		}, "")
		require.NoError(t, err)
		return f.svc.Validate(ctxAs(), doc.ID)
	}

	res, err := adjust(-2)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(3)))

	_, err = adjust(-10)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(3)))
}

func TestAllowNegativeStockPostsDelivery(t *testing.T) {
	f := newFixture(t)
	lenient := inventory.NewService(f.ledger, nil, inventory.ServiceConfig{AllowNegativeStock: true})
	f.svc.ledger = lenient
	doc := f.delivery(t, f.productA, f.l1, 2)
	res, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.True(t, f.ledger.Quantity(f.productA, f.l1).Equal(qty(-2)))
}

func TestUpdateStatusRoutesThroughLifecycle(t *testing.T) {
	f := newFixture(t)
	doc := f.receipt(t, f.productA, f.l1, 2)

	_, err := f.svc.UpdateStatus(ctxAs(), doc.ID, StatusWaiting)
	var terr *shared.TransitionError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, "DRAFT", terr.From)
	require.Equal(t, "WAITING", terr.To)

	ready, err := f.svc.UpdateStatus(ctxAs(), doc.ID, StatusReady)
	require.NoError(t, err)
	require.Equal(t, StatusReady, ready.Status)

	_, err = f.svc.UpdateStatus(ctxAs(), doc.ID, StatusDraft)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	done, err := f.svc.UpdateStatus(ctxAs(), doc.ID, StatusDone)
	require.NoError(t, err)
	require.Equal(t, StatusDone, done.Status)
	require.Len(t, f.ledger.Entries(), 1)

	cancelled, err := f.svc.UpdateStatus(ctxAs(), doc.ID, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Len(t, f.ledger.Entries(), 2)
}

func TestUpdateHeaderAndLines(t *testing.T) {
	f := newFixture(t)
	doc := f.delivery(t, f.productA, f.l1, 2)

	notes := "call before arrival"
	updated, err := f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, notes, updated.Notes)

	supplier := "Acme"
	_, err = f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Supplier: &supplier})
	require.ErrorIs(t, err, shared.ErrValidation)

	five := qty(5)
	line, err := f.svc.UpdateLine(ctxAs(), doc.Lines[0].ID, LinePatch{QtyDone: &five})
	require.NoError(t, err)
	require.True(t, line.QtyDone.Equal(five))

	_, err = f.svc.Confirm(ctxAs(), doc.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateLine(ctxAs(), doc.Lines[0].ID, LinePatch{LocationFrom: ptr(f.l2)})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	negative := qty(-1)
	_, err = f.svc.UpdateLine(ctxAs(), doc.Lines[0].ID, LinePatch{QtyDone: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Cancel(ctxAs(), doc.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.UpdateLine(ctxAs(), doc.Lines[0].ID, LinePatch{QtyDone: &five})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestWritesReturnStoredUpdatedAt(t *testing.T) {
	f := newFixture(t)
	doc := f.delivery(t, f.productA, f.l1, 2)

	notes := "dock 4"
	updated, err := f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Notes: &notes})
	require.NoError(t, err)
	stored, err := f.svc.Get(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.True(t, updated.UpdatedAt.After(doc.UpdatedAt))
	require.Equal(t, stored.UpdatedAt, updated.UpdatedAt)

	confirmed, err := f.svc.Confirm(ctxAs(), doc.ID)
	require.NoError(t, err)
	stored, err = f.svc.Get(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.True(t, confirmed.UpdatedAt.After(updated.UpdatedAt))
	require.Equal(t, stored.UpdatedAt, confirmed.UpdatedAt)

	cancelled, err := f.svc.Cancel(ctxAs(), doc.ID)
	require.NoError(t, err)
	stored, err = f.svc.Get(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, stored.UpdatedAt, cancelled.UpdatedAt)
}

func TestDocumentWritesNotifyChanges(t *testing.T) {
	changes := &countingChanges{}
	f := newFixture(t, func(c *Config) { c.Changes = changes })

	doc := f.delivery(t, f.productA, f.l1, 2)
	require.EqualValues(t, 1, changes.calls.Load())

	notes := "rush"
	_, err := f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Notes: &notes})
	require.NoError(t, err)
	require.EqualValues(t, 2, changes.calls.Load())

	_, err = f.svc.Confirm(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, changes.calls.Load())

	_, err = f.svc.Cancel(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, changes.calls.Load())

	_, err = f.svc.UpdateHeader(ctxAs(), doc.ID, HeaderPatch{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.EqualValues(t, 4, changes.calls.Load())

	draft := f.delivery(t, f.productA, f.l1, 1)
	require.NoError(t, f.svc.Delete(ctxAs(), draft.ID))
	require.EqualValues(t, 6, changes.calls.Load())
}

func TestChangeNotifierFailureDoesNotFailWrite(t *testing.T) {
	changes := &countingChanges{err: errors.New("redis down")}
	f := newFixture(t, func(c *Config) { c.Changes = changes })

	doc := f.receipt(t, f.productA, f.l1, 3)
	res, err := f.svc.Validate(ctxAs(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Document.Status)
	require.EqualValues(t, 2, changes.calls.Load())
}

func TestDeleteOnlyInDraft(t *testing.T) {
	f := newFixture(t)
	draft := f.receipt(t, f.productA, f.l1, 1)
	require.NoError(t, f.svc.Delete(ctxAs(), draft.ID))
	_, err := f.svc.Get(context.Background(), draft.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	done := f.receipt(t, f.productA, f.l1, 1)
	_, err = f.svc.Validate(ctxAs(), done.ID)
	require.NoError(t, err)
	err = f.svc.Delete(ctxAs(), done.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, f.ledger.Entries(), 1)
}

func TestListNewestFirstWithFilters(t *testing.T) {
	f := newFixture(t)
	r1 := f.receipt(t, f.productA, f.l1, 1)
	d1 := f.delivery(t, f.productA, f.l1, 1)
	r2 := f.receipt(t, f.productB, f.l1, 1)

	all, err := f.svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{r2.ID, d1.ID, r1.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	receipt := TypeReceipt
	only, err := f.svc.List(context.Background(), Filter{DocType: &receipt})
	require.NoError(t, err)
	require.Len(t, only, 2)

	bogus := DocType("RETURN")
	_, err = f.svc.List(context.Background(), Filter{DocType: &bogus})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCheckAvailabilityIsCumulative(t *testing.T) {
	f := newFixture(t)
	f.stock(t, f.productA, f.l1, 5)
	doc, err := f.svc.Create(ctxAs(), DeliveryPayload{
		Lines: []LineInput{
			{ProductID: f.productA, QtyDone: qty(3), LocationFrom: ptr(f.l1)},
			{ProductID: f.productA, QtyDone: qty(3), LocationFrom: ptr(f.l1)},
		},
	}, "")
	require.NoError(t, err)

	report, err := f.svc.CheckAvailability(context.Background(), doc.ID)
	require.NoError(t, err)
	require.False(t, report.Sufficient)
	require.Len(t, report.Lines, 2)
	require.True(t, report.Lines[0].Sufficient)
	require.False(t, report.Lines[1].Sufficient)
	require.True(t, report.Lines[1].Available.Equal(qty(2)))

	stored, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}
