package documents

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// memoryRepo layers documents on top of the in-memory ledger so that one
// transaction covers both, like the Postgres repository.
type memoryRepo struct {
	ledger *inventorytest.Store

	mu       sync.Mutex
	docs     map[uuid.UUID]Document
	order    []uuid.UUID
	counters map[string]int64
	writes   int64

	failCounter error
	createTxs   atomic.Int64
}

func newMemoryRepo(ledger *inventorytest.Store) *memoryRepo {
	return &memoryRepo{ledger: ledger, docs: map[uuid.UUID]Document{}, counters: map[string]int64{}}
}

type memoryTx struct {
	*inventorytest.Tx
	m *memoryRepo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomically(func(ltx *inventorytest.Tx) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		docs := make(map[uuid.UUID]Document, len(m.docs))
		for k, v := range m.docs {
			docs[k] = cloneDoc(v)
		}
		order := append([]uuid.UUID(nil), m.order...)
		counters := make(map[string]int64, len(m.counters))
		for k, v := range m.counters {
			counters[k] = v
		}
		if err := fn(ctx, &memoryTx{Tx: ltx, m: m}); err != nil {
			m.docs, m.order, m.counters = docs, order, counters
			return err
		}
		return nil
	})
}

func (m *memoryRepo) WithCreateTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.createTxs.Add(1)
	return m.WithTx(ctx, fn)
}

func cloneDoc(d Document) Document {
	d.Lines = append([]Line(nil), d.Lines...)
	return d
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, &shared.NotFoundError{Entity: "document", ID: id.String()}
	}
	return cloneDoc(doc), nil
}

func (m *memoryRepo) List(_ context.Context, filter Filter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Document{}
	for i := len(m.order) - 1; i >= 0; i-- {
		doc := m.docs[m.order[i]]
		if filter.DocType != nil && doc.DocType != *filter.DocType {
			continue
		}
		if filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		doc.Lines = nil
		out = append(out, doc)
	}
	return out, nil
}

func (m *memoryRepo) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	doc, err := m.Get(ctx, documentID)
	return doc.Lines, err
}

func (m *memoryRepo) GetLine(_ context.Context, id uuid.UUID) (Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.docs {
		for _, l := range doc.Lines {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return Line{}, &shared.NotFoundError{Entity: "document line", ID: id.String()}
}

func (m *memoryRepo) Waiting(_ context.Context, pair *inventory.Pair) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, id := range m.order {
		doc := m.docs[id]
		if doc.Status != StatusWaiting {
			continue
		}
		if pair == nil {
			out = append(out, id)
			continue
		}
		for _, l := range doc.Lines {
			if l.ProductID == pair.ProductID && l.LocationFrom != nil && *l.LocationFrom == pair.LocationID {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (tx *memoryTx) Next(_ context.Context, warehouseCode, operationCode string) (int64, error) {
	if tx.m.failCounter != nil {
		return 0, tx.m.failCounter
	}
	key := warehouseCode + "/" + operationCode
	tx.m.counters[key]++
	return tx.m.counters[key], nil
}

func (tx *memoryTx) InsertDocument(_ context.Context, doc Document) (Document, error) {
	for _, existing := range tx.m.docs {
		if existing.ReferenceNo == doc.ReferenceNo {
			return Document{}, shared.ErrDuplicate
		}
	}
	doc.CreatedAt = fixedNow
	doc.UpdatedAt = fixedNow
	tx.m.docs[doc.ID] = cloneDoc(doc)
	tx.m.order = append(tx.m.order, doc.ID)
	return doc, nil
}

func (tx *memoryTx) LockDocument(_ context.Context, id uuid.UUID) (Document, error) {
	doc, ok := tx.m.docs[id]
	if !ok {
		return Document{}, &shared.NotFoundError{Entity: "document", ID: id.String()}
	}
	return cloneDoc(doc), nil
}

func (tx *memoryTx) UpdateDocument(_ context.Context, doc *Document) error {
	existing, ok := tx.m.docs[doc.ID]
	if !ok {
		return &shared.NotFoundError{Entity: "document", ID: doc.ID.String()}
	}
	tx.m.writes++
	doc.UpdatedAt = fixedNow.Add(time.Duration(tx.m.writes) * time.Millisecond)
	stored := *doc
	stored.Lines = existing.Lines
	tx.m.docs[doc.ID] = stored
	return nil
}

func (tx *memoryTx) UpdateLine(_ context.Context, line Line) error {
	doc, ok := tx.m.docs[line.DocumentID]
	if !ok {
		return &shared.NotFoundError{Entity: "document line", ID: line.ID.String()}
	}
	for i, l := range doc.Lines {
		if l.ID == line.ID {
			doc.Lines[i] = line
			tx.m.docs[doc.ID] = doc
			return nil
		}
	}
	return &shared.NotFoundError{Entity: "document line", ID: line.ID.String()}
}

func (tx *memoryTx) DeleteDocument(_ context.Context, id uuid.UUID) error {
	if _, ok := tx.m.docs[id]; !ok {
		return &shared.NotFoundError{Entity: "document", ID: id.String()}
	}
	delete(tx.m.docs, id)
	for i, v := range tx.m.order {
		if v == id {
			tx.m.order = append(tx.m.order[:i], tx.m.order[i+1:]...)
			break
		}
	}
	return nil
}

type memoryLookup struct {
	locations map[uuid.UUID]masterdata.Location
	products  map[uuid.UUID]masterdata.Product
}

func (l *memoryLookup) Location(_ context.Context, id uuid.UUID) (masterdata.Location, error) {
	loc, ok := l.locations[id]
	if !ok {
		return masterdata.Location{}, &shared.NotFoundError{Entity: "location", ID: id.String()}
	}
	return loc, nil
}

func (l *memoryLookup) Product(_ context.Context, id uuid.UUID) (masterdata.Product, error) {
	p, ok := l.products[id]
	if !ok {
		return masterdata.Product{}, &shared.NotFoundError{Entity: "product", ID: id.String()}
	}
	return p, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = ""
	return nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = resourceID
	return nil
}

func (m *memoryIdempotency) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok && v != "", nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) transitions(documentID uuid.UUID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, l := range a.logs {
		if l.Action == "document:transition" && l.EntityID == documentID.String() {
			out = append(out, string(l.Meta["from"].(Status))+"->"+string(l.Meta["to"].(Status)))
		}
	}
	return out
}

type countingObserver struct {
	mu        sync.Mutex
	outcomes  map[string]int
	conflicts int
}

func (o *countingObserver) ObserveValidation(docType, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[docType+":"+outcome]++
}

func (o *countingObserver) ObserveConflict() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func (o *countingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[key]
}

type countingChanges struct {
	calls atomic.Int64
	err   error
}

func (c *countingChanges) DocumentsChanged(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type failingCounter struct{}

func (failingCounter) Next(context.Context, string, string) (int64, error) {
	return 0, errors.New("counter unavailable")
}

func sortedRefs(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ReferenceNo)
	}
	sort.Strings(out)
	return out
}
