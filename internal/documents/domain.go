// Package documents owns warehouse operation documents and drives them
// through their lifecycle into the stock ledger.
package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// DocType identifies the kind of warehouse operation.
type DocType string

const (
	// TypeReceipt brings stock into a location from a supplier.
	TypeReceipt DocType = "RECEIPT"
	// TypeDelivery ships stock out of a location to a customer.
	TypeDelivery DocType = "DELIVERY"
	// TypeTransfer moves stock between two locations.
	TypeTransfer DocType = "TRANSFER"
	// TypeAdjustment corrects the quantity on hand at a location.
	TypeAdjustment DocType = "ADJUSTMENT"
)

// Valid reports whether t is a known document type.
func (t DocType) Valid() bool {
	switch t {
	case TypeReceipt, TypeDelivery, TypeTransfer, TypeAdjustment:
		return true
	}
	return false
}

// Gated reports whether the type draws stock and is subject to the
// availability check.
func (t DocType) Gated() bool {
	return t == TypeDelivery || t == TypeTransfer
}

// Status is the lifecycle position of a document.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusWaiting   Status = "WAITING"
	StatusReady     Status = "READY"
	StatusDone      Status = "DONE"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusWaiting, StatusReady, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Document is the header of a warehouse operation.
type Document struct {
	ID            uuid.UUID  `json:"id"`
	ReferenceNo   string     `json:"reference_no"`
	DocType       DocType    `json:"doc_type"`
	Status        Status     `json:"status"`
	Supplier      string     `json:"supplier,omitempty"`
	Customer      string     `json:"customer,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	Responsible   string     `json:"responsible,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	Lines         []Line     `json:"lines,omitempty"`
}

// Line is one product movement planned by a document.
type Line struct {
	ID           uuid.UUID       `json:"id"`
	DocumentID   uuid.UUID       `json:"document_id"`
	LineNo       int             `json:"line_no"`
	ProductID    uuid.UUID       `json:"product_id"`
	QtyExpected  decimal.Decimal `json:"qty_expected"`
	QtyDone      decimal.Decimal `json:"qty_done"`
	LocationFrom *uuid.UUID      `json:"location_from,omitempty"`
	LocationTo   *uuid.UUID      `json:"location_to,omitempty"`
}

// PrimaryLocation is the location the line's stock effect is anchored on.
func (l Line) PrimaryLocation(t DocType) *uuid.UUID {
	if t.Gated() {
		return l.LocationFrom
	}
	return l.LocationTo
}

// Filter narrows document listings.
type Filter struct {
	DocType *DocType
	Status  *Status
	Limit   int
}

// HeaderPatch carries the editable non-status header fields. Nil means keep.
type HeaderPatch struct {
	Supplier      *string    `json:"supplier,omitempty"`
	Customer      *string    `json:"customer,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	Responsible   *string    `json:"responsible,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// Empty reports whether nothing would change.
func (p HeaderPatch) Empty() bool {
	return p.Supplier == nil && p.Customer == nil && p.ScheduledDate == nil && p.Responsible == nil && p.Notes == nil
}

// LinePatch carries editable line fields. Nil means keep.
type LinePatch struct {
	QtyExpected  *decimal.Decimal `json:"qty_expected,omitempty"`
	QtyDone      *decimal.Decimal `json:"qty_done,omitempty"`
	LocationFrom *uuid.UUID       `json:"location_from,omitempty"`
	LocationTo   *uuid.UUID       `json:"location_to,omitempty"`
}

// Availability reports whether a document's source locations can cover it.
type Availability struct {
	DocumentID uuid.UUID          `json:"document_id"`
	Sufficient bool               `json:"sufficient"`
	Lines      []LineAvailability `json:"lines"`
}

// LineAvailability is the per-line part of Availability.
type LineAvailability struct {
	LineID     uuid.UUID       `json:"line_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID uuid.UUID       `json:"location_id"`
	Required   decimal.Decimal `json:"required"`
	Available  decimal.Decimal `json:"available"`
	Sufficient bool            `json:"sufficient"`
}

// ValidateResult is returned by Validate. Shortages is set when the
// document fell back to WAITING instead of posting.
type ValidateResult struct {
	Document  Document          `json:"document"`
	Posted    int               `json:"posted"`
	Shortages []shared.Shortage `json:"shortages,omitempty"`
}
