package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/masterdata"
	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/refs"
	"github.com/odyssey-erp/stockops/internal/shared"
)

const idempotencyModule = "documents"

// IdempotencyPort reserves and resolves Idempotency-Key values.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, resourceID string) error
	Lookup(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer counts validation outcomes.
type Observer interface {
	ObserveValidation(docType, outcome string)
	ObserveConflict()
}

// ChangeNotifier is told after a committed write changed documents, so
// derived views such as the dashboard counters can be refreshed.
type ChangeNotifier interface {
	DocumentsChanged(ctx context.Context) error
}

// Validation outcomes reported to Observer.
const (
	OutcomeDone     = "done"
	OutcomeWaiting  = "waiting"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
)

// Config groups optional collaborators and settings.
type Config struct {
	// Counter overrides the in-transaction Postgres counter.
	Counter          refs.Counter
	Idempotency      IdempotencyPort
	Audit            AuditPort
	Observer         Observer
	Changes          ChangeNotifier
	Retry            db.RetryPolicy
	DefaultWarehouse string
	Logger           *slog.Logger
	Now              func() time.Time
}

// Service owns document storage and the lifecycle engine.
type Service struct {
	repo             RepositoryPort
	lookup           masterdata.Lookup
	ledger           *inventory.Service
	counter          refs.Counter
	idempotency      IdempotencyPort
	audit            AuditPort
	observer         Observer
	changes          ChangeNotifier
	validate         *validator.Validate
	retry            db.RetryPolicy
	defaultWarehouse string
	logger           *slog.Logger
	now              func() time.Time
}

// NewService builds Service. lookup may be nil, in which case product and
// location ids are not resolved and references use the default warehouse.
func NewService(repo RepositoryPort, lookup masterdata.Lookup, ledger *inventory.Service, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	wh := strings.ToUpper(strings.TrimSpace(cfg.DefaultWarehouse))
	if wh == "" {
		wh = "WH"
	}
	return &Service{
		repo:             repo,
		lookup:           lookup,
		ledger:           ledger,
		counter:          cfg.Counter,
		idempotency:      cfg.Idempotency,
		audit:            cfg.Audit,
		observer:         cfg.Observer,
		changes:          cfg.Changes,
		validate:         shared.NewValidator(),
		retry:            cfg.Retry,
		defaultWarehouse: wh,
		logger:           logger,
		now:              func() time.Time { return now().UTC() },
	}
}

// Create validates p, allocates its reference and stores it in DRAFT. A
// repeated idempotencyKey returns the document created by the first call.
func (s *Service) Create(ctx context.Context, p Payload, idempotencyKey string) (Document, error) {
	if p == nil {
		return Document{}, shared.NewValidationError("doc_type", "required")
	}
	if err := p.Validate(s.validate); err != nil {
		return Document{}, err
	}
	doc := p.Document()
	if doc.Responsible == "" {
		if id, ok := identity.FromContext(ctx); ok {
			doc.Responsible = id.Display()
		}
	}
	warehouse, err := s.resolve(ctx, doc)
	if err != nil {
		return Document{}, err
	}

	key := strings.TrimSpace(idempotencyKey)
	if key != "" && s.idempotency != nil {
		if existing, ok, err := s.replay(ctx, key); err != nil || ok {
			return existing, err
		}
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Document{}, err
		}
	}

	doc.ID = uuid.New()
	for i := range doc.Lines {
		doc.Lines[i].ID = uuid.New()
		doc.Lines[i].DocumentID = doc.ID
	}
	var created Document
	err = db.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithCreateTx(ctx, func(ctx context.Context, tx TxRepository) error {
			counter := s.counter
			if counter == nil {
				counter = tx
			}
			ref, err := refs.NewAllocator(counter).AllocateFor(ctx, warehouse, string(doc.DocType))
			if err != nil {
				return err
			}
			d := doc
			d.ReferenceNo = ref
			created, err = tx.InsertDocument(ctx, d)
			return err
		})
	})
	if err != nil {
		if key != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Document{}, fmt.Errorf("documents: create %s: %w", doc.DocType, err)
	}
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.Complete(ctx, key, created.ID.String()); err != nil {
			s.logger.Warn("complete idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}
	s.changed(ctx)
	s.record(ctx, "document:create", created, map[string]any{
		"reference_no": created.ReferenceNo,
		"doc_type":     created.DocType,
		"lines":        len(created.Lines),
	})
	return created, nil
}

func (s *Service) replay(ctx context.Context, key string) (Document, bool, error) {
	resourceID, ok, err := s.idempotency.Lookup(ctx, key)
	if err != nil || !ok {
		return Document{}, false, err
	}
	id, err := uuid.Parse(resourceID)
	if err != nil {
		return Document{}, false, fmt.Errorf("documents: idempotency key %q holds %q: %w", key, resourceID, err)
	}
	doc, err := s.repo.Get(ctx, id)
	return doc, err == nil, err
}

// resolve checks every referenced product and location and returns the
// warehouse code of the first line's primary location.
func (s *Service) resolve(ctx context.Context, doc Document) (string, error) {
	if s.lookup == nil {
		return s.defaultWarehouse, nil
	}
	warehouse := ""
	products := map[uuid.UUID]bool{}
	locations := map[uuid.UUID]masterdata.Location{}
	location := func(id *uuid.UUID) (masterdata.Location, error) {
		if loc, ok := locations[*id]; ok {
			return loc, nil
		}
		loc, err := s.lookup.Location(ctx, *id)
		if err != nil {
			return masterdata.Location{}, err
		}
		locations[*id] = loc
		return loc, nil
	}
	for i, l := range doc.Lines {
		if !products[l.ProductID] {
			if _, err := s.lookup.Product(ctx, l.ProductID); err != nil {
				return "", fmt.Errorf("documents: lines[%d]: %w", i, err)
			}
			products[l.ProductID] = true
		}
		for _, id := range []*uuid.UUID{l.LocationFrom, l.LocationTo} {
			if id == nil {
				continue
			}
			if _, err := location(id); err != nil {
				return "", fmt.Errorf("documents: lines[%d]: %w", i, err)
			}
		}
		if i == 0 {
			if primary := l.PrimaryLocation(doc.DocType); primary != nil {
				warehouse = locations[*primary].WarehouseCode
			}
		}
	}
	if warehouse == "" {
		warehouse = s.defaultWarehouse
	}
	return warehouse, nil
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns headers newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Document, error) {
	if filter.DocType != nil && !filter.DocType.Valid() {
		return nil, shared.NewValidationError("type", fmt.Sprintf("unknown document type %q", *filter.DocType))
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", *filter.Status))
	}
	return s.repo.List(ctx, filter)
}

// Lines returns the lines of an existing document.
func (s *Service) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return doc.Lines, nil
}

// UpdateHeader edits non-status header fields of a non-terminal document.
func (s *Service) UpdateHeader(ctx context.Context, id uuid.UUID, patch HeaderPatch) (Document, error) {
	var updated Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return &shared.StateError{DocumentID: id, Status: string(doc.Status), Action: "edit"}
		}
		verr := &shared.ValidationError{}
		if patch.Supplier != nil {
			if doc.DocType != TypeReceipt {
				verr.Add("supplier", fmt.Sprintf("not allowed for %s", doc.DocType))
			}
			doc.Supplier = strings.TrimSpace(*patch.Supplier)
		}
		if patch.Customer != nil {
			if doc.DocType != TypeDelivery {
				verr.Add("customer", fmt.Sprintf("not allowed for %s", doc.DocType))
			}
			doc.Customer = strings.TrimSpace(*patch.Customer)
		}
		if patch.ScheduledDate != nil {
			d := patch.ScheduledDate.UTC()
			doc.ScheduledDate = &d
		}
		if patch.Responsible != nil {
			doc.Responsible = strings.TrimSpace(*patch.Responsible)
		}
		if patch.Notes != nil {
			doc.Notes = strings.TrimSpace(*patch.Notes)
		}
		if err := verr.Err(); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, &doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.changed(ctx)
	s.record(ctx, "document:update", updated, nil)
	return updated, nil
}

// UpdateLine edits quantities of a non-terminal document's line; locations
// may change only while the document is in DRAFT.
func (s *Service) UpdateLine(ctx context.Context, lineID uuid.UUID, patch LinePatch) (Line, error) {
	current, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	var (
		updated Line
		owner   Document
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, current.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return &shared.StateError{DocumentID: doc.ID, Status: string(doc.Status), Action: "edit lines"}
		}
		if (patch.LocationFrom != nil || patch.LocationTo != nil) && doc.Status != StatusDraft {
			return &shared.StateError{DocumentID: doc.ID, Status: string(doc.Status), Action: "change line locations"}
		}
		idx := -1
		for i, l := range doc.Lines {
			if l.ID == lineID {
				idx = i
			}
		}
		if idx < 0 {
			return &shared.NotFoundError{Entity: "document line", ID: lineID.String()}
		}
		line := doc.Lines[idx]
		if patch.QtyExpected != nil {
			line.QtyExpected = *patch.QtyExpected
		}
		if patch.QtyDone != nil {
			line.QtyDone = *patch.QtyDone
		}
		if patch.LocationFrom != nil {
			line.LocationFrom = patch.LocationFrom
		}
		if patch.LocationTo != nil {
			line.LocationTo = patch.LocationTo
		}
		verr := &shared.ValidationError{}
		checkLine(verr, "", doc.DocType, line.QtyExpected, line.QtyDone, line.LocationFrom, line.LocationTo)
		if err := verr.Err(); err != nil {
			return err
		}
		if s.lookup != nil {
			for _, id := range []*uuid.UUID{patch.LocationFrom, patch.LocationTo} {
				if id == nil {
					continue
				}
				if _, err := s.lookup.Location(ctx, *id); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}
		updated, owner = line, doc
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	s.record(ctx, "document:update_line", owner, map[string]any{
		"line_id":  updated.ID,
		"qty_done": updated.QtyDone.String(),
	})
	return updated, nil
}

// UpdateStatus routes a requested status through the lifecycle: READY and
// WAITING confirm (availability decides which), DONE validates, CANCELLED
// cancels. Any other request fails with *shared.TransitionError.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if status == StatusCancelled {
		return s.Cancel(ctx, id)
	}
	if !CanTransition(doc.DocType, doc.Status, status) {
		return Document{}, &shared.TransitionError{DocumentID: id, From: string(doc.Status), To: string(status)}
	}
	switch status {
	case StatusReady, StatusWaiting:
		return s.Confirm(ctx, id)
	case StatusDone:
		res, err := s.Validate(ctx, id)
		return res.Document, err
	}
	return Document{}, &shared.TransitionError{DocumentID: id, From: string(doc.Status), To: string(status)}
}

// Delete removes a DRAFT document and its lines.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var deleted Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return &shared.StateError{DocumentID: id, Status: string(doc.Status), Action: "delete"}
		}
		deleted = doc
		return tx.DeleteDocument(ctx, id)
	})
	if err != nil {
		return err
	}
	s.changed(ctx)
	s.record(ctx, "document:delete", deleted, map[string]any{"reference_no": deleted.ReferenceNo})
	return nil
}

func (s *Service) changed(ctx context.Context) {
	if s.changes == nil {
		return
	}
	if err := s.changes.DocumentsChanged(ctx); err != nil {
		s.logger.Warn("notify document change", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action string, doc Document, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    identity.Actor(ctx),
		Action:   action,
		Entity:   "document",
		EntityID: doc.ID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit document", slog.String("action", action), slog.String("document_id", doc.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) recordTransition(ctx context.Context, doc Document, from Status, extra map[string]any) {
	meta := map[string]any{
		"from":         from,
		"to":           doc.Status,
		"doc_type":     doc.DocType,
		"reference_no": doc.ReferenceNo,
	}
	for k, v := range extra {
		meta[k] = v
	}
	s.changed(ctx)
	s.record(ctx, "document:transition", doc, meta)
	s.logger.Info("document transition",
		slog.String("document_id", doc.ID.String()),
		slog.String("reference_no", doc.ReferenceNo),
		slog.String("from", string(from)),
		slog.String("to", string(doc.Status)))
}

func isConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict)
}
