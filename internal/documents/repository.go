package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockops/internal/inventory"
	"github.com/odyssey-erp/stockops/internal/platform/db"
	"github.com/odyssey-erp/stockops/internal/refs"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// TxRepository exposes the document and posting operations available inside
// one transaction. Next advances the in-database reference counter so the
// reference is committed or rolled back together with the document.
type TxRepository interface {
	inventory.TxRepository
	refs.Counter
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	// LockDocument loads the document with its lines and holds a row lock
	// until the transaction ends.
	LockDocument(ctx context.Context, id uuid.UUID) (Document, error)
	// UpdateDocument stores the header and status of doc and sets
	// doc.UpdatedAt to the stored modification time.
	UpdateDocument(ctx context.Context, doc *Document) error
	UpdateLine(ctx context.Context, line Line) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	DocumentEntries(ctx context.Context, id uuid.UUID) ([]inventory.Entry, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithCreateTx runs fn in the read-committed transaction used to insert
	// new documents, so concurrent creators queue on the reference counter
	// row instead of failing serialization.
	WithCreateTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	List(ctx context.Context, filter Filter) ([]Document, error)
	Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error)
	GetLine(ctx context.Context, id uuid.UUID) (Line, error)
	// Waiting lists WAITING documents, optionally only those with a line
	// drawing on pair, oldest first.
	Waiting(ctx context.Context, pair *inventory.Pair) ([]uuid.UUID, error)
}

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool inventory.PoolLike
}

// NewRepository constructs Repository.
func NewRepository(pool inventory.PoolLike) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	inventory.TxRepository
	*refs.PGCounter
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.withTx(ctx, pgx.RepeatableRead, fn)
}

// WithCreateTx executes the callback inside a read-committed transaction.
func (r *Repository) WithCreateTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.withTx(ctx, pgx.ReadCommitted, fn)
}

func (r *Repository) withTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("documents repository not initialised")
	}
	return db.WithTxIso(ctx, r.pool, iso, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			TxRepository: inventory.NewTxRepository(tx),
			PGCounter:    refs.NewPGCounter(tx),
			tx:           tx,
		})
	})
}

const documentColumns = `id, reference_no, doc_type, status, COALESCE(supplier, ''), COALESCE(customer, ''), scheduled_date,
responsible, notes, created_at, updated_at, validated_at, cancelled_at`

const lineColumns = `id, document_id, line_no, product_id, qty_expected, qty_done, location_from, location_to`

// Get loads a document with its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return Document{}, notFound(err, id)
	}
	doc.Lines, err = queryLines(ctx, r.pool, id)
	return doc, err
}

// List returns headers newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Document, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DocType != nil {
		args = append(args, string(*filter.DocType))
		conds = append(conds, fmt.Sprintf("doc_type=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, shared.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Lines lists a document's lines by line number.
func (r *Repository) Lines(ctx context.Context, documentID uuid.UUID) ([]Line, error) {
	return queryLines(ctx, r.pool, documentID)
}

// GetLine loads one line.
func (r *Repository) GetLine(ctx context.Context, id uuid.UUID) (Line, error) {
	line, err := scanLine(r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, &shared.NotFoundError{Entity: "document line", ID: id.String()}
		}
		return Line{}, err
	}
	return line, nil
}

// Waiting implements RepositoryPort.
func (r *Repository) Waiting(ctx context.Context, pair *inventory.Pair) ([]uuid.UUID, error) {
	query := `SELECT d.id FROM documents d WHERE d.status='WAITING' ORDER BY d.created_at ASC`
	var args []any
	if pair != nil {
		query = `SELECT d.id FROM documents d WHERE d.status='WAITING' AND EXISTS (
SELECT 1 FROM document_lines l WHERE l.document_id=d.id AND l.product_id=$1 AND l.location_from=$2)
ORDER BY d.created_at ASC`
		args = append(args, pair.ProductID, pair.LocationID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO documents (id, reference_no, doc_type, status, supplier, customer, scheduled_date, responsible, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, clock_timestamp(), clock_timestamp())
RETURNING created_at, updated_at`,
		doc.ID, doc.ReferenceNo, string(doc.DocType), string(doc.Status), doc.Supplier, doc.Customer, doc.ScheduledDate,
		doc.Responsible, doc.Notes).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, db.Classify(err)
	}
	for _, line := range doc.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO document_lines (id, document_id, line_no, product_id, qty_expected, qty_done, location_from, location_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			line.ID, doc.ID, line.LineNo, line.ProductID, line.QtyExpected, line.QtyDone, line.LocationFrom, line.LocationTo); err != nil {
			return Document{}, db.Classify(err)
		}
	}
	return doc, nil
}

func (r *txRepository) LockDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, db.Classify(notFound(err, id))
	}
	doc.Lines, err = queryLines(ctx, r.tx, id)
	return doc, err
}

func (r *txRepository) UpdateDocument(ctx context.Context, doc *Document) error {
	err := r.tx.QueryRow(ctx, `UPDATE documents SET status=$2, supplier=NULLIF($3, ''), customer=NULLIF($4, ''), scheduled_date=$5,
responsible=$6, notes=$7, validated_at=$8, cancelled_at=$9, updated_at=clock_timestamp() WHERE id=$1 RETURNING updated_at`,
		doc.ID, string(doc.Status), doc.Supplier, doc.Customer, doc.ScheduledDate, doc.Responsible, doc.Notes, doc.ValidatedAt, doc.CancelledAt).
		Scan(&doc.UpdatedAt)
	return db.Classify(notFound(err, doc.ID))
}

func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	tag, err := r.tx.Exec(ctx, `UPDATE document_lines SET qty_expected=$2, qty_done=$3, location_from=$4, location_to=$5 WHERE id=$1`,
		line.ID, line.QtyExpected, line.QtyDone, line.LocationFrom, line.LocationTo)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "document line", ID: line.ID.String()}
	}
	return nil
}

func (r *txRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "document", ID: id.String()}
	}
	return nil
}

func (r *txRepository) DocumentEntries(ctx context.Context, id uuid.UUID) ([]inventory.Entry, error) {
	return inventory.DocumentEntriesIn(ctx, r.tx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc             Document
		docType, status string
	)
	if err := row.Scan(&doc.ID, &doc.ReferenceNo, &docType, &status, &doc.Supplier, &doc.Customer, &doc.ScheduledDate,
		&doc.Responsible, &doc.Notes, &doc.CreatedAt, &doc.UpdatedAt, &doc.ValidatedAt, &doc.CancelledAt); err != nil {
		return Document{}, err
	}
	doc.DocType = DocType(docType)
	doc.Status = Status(status)
	return doc, nil
}

func scanLine(row rowScanner) (Line, error) {
	var line Line
	err := row.Scan(&line.ID, &line.DocumentID, &line.LineNo, &line.ProductID, &line.QtyExpected, &line.QtyDone,
		&line.LocationFrom, &line.LocationTo)
	return line, err
}

func queryLines(ctx context.Context, q db.Querier, documentID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id=$1 ORDER BY line_no ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &shared.NotFoundError{Entity: "document", ID: id.String()}
	}
	return err
}
