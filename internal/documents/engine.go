package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// Confirm moves a RECEIPT from DRAFT to READY, and a DELIVERY or TRANSFER to
// READY or WAITING depending on whether its source balances cover it.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (Document, error) {
	var (
		doc  Document
		from Status
	)
	err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			doc, err = tx.LockDocument(ctx, id)
			if err != nil {
				return err
			}
			from = doc.Status
			if !Confirmable(doc.DocType, doc.Status) {
				return &shared.StateError{DocumentID: id, Status: string(doc.Status), Action: "confirm"}
			}
			next := StatusReady
			if doc.DocType.Gated() {
				shortages, err := s.ledger.Poster().Shortages(ctx, tx, Movements(doc))
				if err != nil {
					return err
				}
				if len(shortages) > 0 {
					next = StatusWaiting
				}
			}
			if next == doc.Status {
				return nil
			}
			if !CanTransition(doc.DocType, doc.Status, next) {
				return &shared.TransitionError{DocumentID: id, From: string(doc.Status), To: string(next)}
			}
			doc.Status = next
			return tx.UpdateDocument(ctx, &doc)
		})
	})
	if err != nil {
		return Document{}, fmt.Errorf("documents: confirm %s: %w", id, err)
	}
	if doc.Status != from {
		s.recordTransition(ctx, doc, from, nil)
	}
	return doc, nil
}

// CheckAvailability reports, without locking, whether the balances drawn on
// by a document currently cover it. Lines drawing on the same pair are
// checked cumulatively in line order.
func (s *Service) CheckAvailability(ctx context.Context, id uuid.UUID) (Availability, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	out := Availability{DocumentID: id, Sufficient: true, Lines: []LineAvailability{}}
	balances := map[inventory.Pair]decimal.Decimal{}
	for _, l := range doc.Lines {
		required := drawn(doc.DocType, l)
		loc := l.PrimaryLocation(doc.DocType)
		if !required.IsPositive() || loc == nil {
			continue
		}
		pair := inventory.Pair{ProductID: l.ProductID, LocationID: *loc}
		available, seen := balances[pair]
		if !seen {
			available, err = s.ledger.Available(ctx, pair.ProductID, pair.LocationID)
			if err != nil {
				return Availability{}, err
			}
		}
		ok := s.ledger.Poster().AllowNegative || !available.Sub(required).IsNegative()
		out.Lines = append(out.Lines, LineAvailability{
			LineID:     l.ID,
			ProductID:  l.ProductID,
			LocationID: *loc,
			Required:   required,
			Available:  decimal.Max(available, decimal.Zero),
			Sufficient: ok,
		})
		if !ok {
			out.Sufficient = false
		}
		balances[pair] = available.Sub(required)
	}
	return out, nil
}

// drawn is the quantity a line removes from its primary location.
func drawn(t DocType, l Line) decimal.Decimal {
	switch t {
	case TypeDelivery, TypeTransfer:
		return l.QtyDone
	case TypeAdjustment:
		if l.QtyDone.IsNegative() {
			return l.QtyDone.Neg()
		}
	}
	return decimal.Zero
}

// Validate posts every movement of the document in one transaction and marks
// it DONE. When a DELIVERY or TRANSFER cannot be covered it is set to WAITING
// instead, nothing is posted and the shortages are returned with a nil error.
// Lock conflicts are retried; exhaustion yields *shared.ConflictError.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) (ValidateResult, error) {
	var (
		res     ValidateResult
		posted  []inventory.Entry
		from    Status
		docType DocType
	)
	err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
		res, posted = ValidateResult{}, nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			doc, err := tx.LockDocument(ctx, id)
			if err != nil {
				return err
			}
			from, docType = doc.Status, doc.DocType
			if doc.Status.Terminal() {
				return &shared.StateError{DocumentID: id, Status: string(doc.Status), Action: "validate"}
			}
			if !CanTransition(doc.DocType, doc.Status, StatusDone) {
				return &shared.TransitionError{DocumentID: id, From: string(doc.Status), To: string(StatusDone)}
			}
			entries, err := s.ledger.Poster().PostBatch(ctx, tx, doc.ID, Movements(doc))
			var short *shared.InsufficientStockError
			if errors.As(err, &short) && doc.DocType.Gated() {
				for i := range short.Shortages {
					short.Shortages[i].LineID = lineForShortage(doc, short.Shortages[i].ProductID, short.Shortages[i].LocationID)
				}
				if doc.Status != StatusWaiting {
					doc.Status = StatusWaiting
					if err := tx.UpdateDocument(ctx, &doc); err != nil {
						return err
					}
				}
				res = ValidateResult{Document: doc, Shortages: short.Shortages}
				return nil
			}
			if err != nil {
				return err
			}
			now := s.now()
			doc.Status = StatusDone
			doc.ValidatedAt = &now
			if err := tx.UpdateDocument(ctx, &doc); err != nil {
				return err
			}
			res = ValidateResult{Document: doc, Posted: len(entries)}
			posted = entries
			return nil
		})
	})
	if err != nil {
		s.observe(docType, err)
		return ValidateResult{}, fmt.Errorf("documents: validate %s: %w", id, err)
	}

	if res.Document.Status == StatusWaiting {
		s.observeOutcome(docType, OutcomeWaiting)
		s.logger.Info("document waiting for stock",
			slog.String("document_id", id.String()),
			slog.Int("shortages", len(res.Shortages)))
		if from != StatusWaiting {
			s.recordTransition(ctx, res.Document, from, map[string]any{"shortages": len(res.Shortages)})
		}
		return res, nil
	}
	s.observeOutcome(docType, OutcomeDone)
	s.ledger.Committed(ctx, identity.Actor(ctx), inventory.PostedEvent{DocumentID: &res.Document.ID, Entries: posted, PostedAt: *res.Document.ValidatedAt})
	s.recordTransition(ctx, res.Document, from, map[string]any{"entries": len(posted)})
	return res, nil
}

// Cancel cancels a document. A DONE document is first compensated with
// REVERSAL entries for everything it posted, newest first.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (Document, error) {
	var (
		doc    Document
		from   Status
		posted []inventory.Entry
	)
	err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
		posted = nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			doc, err = tx.LockDocument(ctx, id)
			if err != nil {
				return err
			}
			from = doc.Status
			switch {
			case doc.Status == StatusCancelled:
				return &shared.StateError{DocumentID: id, Status: string(doc.Status), Action: "cancel"}
			case doc.Status == StatusDone:
				entries, err := tx.DocumentEntries(ctx, id)
				if err != nil {
					return err
				}
				posted, err = s.ledger.Poster().PostBatch(ctx, tx, id, inventory.Reverse(entries))
				if err != nil {
					return err
				}
			case !CanTransition(doc.DocType, doc.Status, StatusCancelled):
				return &shared.TransitionError{DocumentID: id, From: string(doc.Status), To: string(StatusCancelled)}
			}
			now := s.now()
			doc.Status = StatusCancelled
			doc.CancelledAt = &now
			return tx.UpdateDocument(ctx, &doc)
		})
	})
	if err != nil {
		return Document{}, fmt.Errorf("documents: cancel %s: %w", id, err)
	}
	if len(posted) > 0 {
		s.ledger.Committed(ctx, identity.Actor(ctx), inventory.PostedEvent{DocumentID: &doc.ID, Entries: posted, PostedAt: *doc.CancelledAt})
	}
	s.recordTransition(ctx, doc, from, map[string]any{"reversals": len(posted)})
	return doc, nil
}

// RecheckWaiting re-confirms WAITING documents, restricted to those drawing
// on pair when it is set. It returns how many became READY. Documents that
// changed state concurrently are skipped.
func (s *Service) RecheckWaiting(ctx context.Context, pair *inventory.Pair) (int, error) {
	ids, err := s.repo.Waiting(ctx, pair)
	if err != nil {
		return 0, err
	}
	var (
		ready int
		errs  []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return ready, err
		}
		doc, err := s.Confirm(ctx, id)
		switch {
		case err == nil:
			if doc.Status == StatusReady {
				ready++
			}
		case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrNotFound):
			continue
		default:
			s.logger.Warn("recheck waiting document", slog.String("document_id", id.String()), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return ready, errors.Join(errs...)
}

func (s *Service) observe(docType DocType, err error) {
	if docType == "" {
		return
	}
	if isConflict(err) {
		if s.observer != nil {
			s.observer.ObserveConflict()
		}
		s.observeOutcome(docType, OutcomeConflict)
		return
	}
	s.observeOutcome(docType, OutcomeRejected)
}

func (s *Service) observeOutcome(docType DocType, outcome string) {
	if s.observer != nil {
		s.observer.ObserveValidation(string(docType), outcome)
	}
}
