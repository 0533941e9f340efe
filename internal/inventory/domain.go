package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reason classifies a ledger entry.
type Reason string

const (
	// ReasonReceipt is an inbound receipt posting.
	ReasonReceipt Reason = "RECEIPT"
	// ReasonDelivery is an outbound delivery posting.
	ReasonDelivery Reason = "DELIVERY"
	// ReasonTransferOut leaves the source location of a transfer.
	ReasonTransferOut Reason = "TRANSFER_OUT"
	// ReasonTransferIn arrives at the destination location of a transfer.
	ReasonTransferIn Reason = "TRANSFER_IN"
	// ReasonAdjustment is a manual correction.
	ReasonAdjustment Reason = "ADJUSTMENT"
	// ReasonReversal compensates a posting of a cancelled document.
	ReasonReversal Reason = "REVERSAL"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonReceipt, ReasonDelivery, ReasonTransferOut, ReasonTransferIn, ReasonAdjustment, ReasonReversal:
		return true
	}
	return false
}

// Balance is the projected on-hand quantity of a product at a location.
type Balance struct {
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID uuid.UUID       `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Entry is one immutable ledger row.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"seq"`
	CreatedAt    time.Time       `json:"created_at"`
	ProductID    uuid.UUID       `json:"product_id"`
	LocationID   uuid.UUID       `json:"location_id"`
	QtyDelta     decimal.Decimal `json:"qty_delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       Reason          `json:"reason"`
	DocumentID   *uuid.UUID      `json:"document_id,omitempty"`
	ReferenceNo  string          `json:"reference_no,omitempty"`
}

// Movement is a requested quantity change.
type Movement struct {
	ProductID   uuid.UUID
	LocationID  uuid.UUID
	QtyDelta    decimal.Decimal
	Reason      Reason
	DocumentID  *uuid.UUID
	ReferenceNo string
}

// Pair identifies a balance row.
type Pair struct {
	ProductID  uuid.UUID `json:"product_id"`
	LocationID uuid.UUID `json:"location_id"`
}

// Less orders pairs for lock acquisition.
func (p Pair) Less(o Pair) bool {
	if c := compareUUID(p.ProductID, o.ProductID); c != 0 {
		return c < 0
	}
	return compareUUID(p.LocationID, o.LocationID) < 0
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ProductID  *uuid.UUID
	LocationID *uuid.UUID
	DocumentID *uuid.UUID
	Limit      int
}

// BalanceFilter narrows balance listings.
type BalanceFilter struct {
	ProductID  *uuid.UUID
	LocationID *uuid.UUID
	NonZero    bool
}

// Drift describes a pair whose ledger does not replay onto its balance.
type Drift struct {
	Pair
	Entries     int             `json:"entries"`
	LedgerSum   decimal.Decimal `json:"ledger_sum"`
	Balance     decimal.Decimal `json:"balance"`
	FirstBadSeq int64           `json:"first_bad_seq,omitempty"`
}

// Consistent reports whether the pair replays cleanly.
func (d Drift) Consistent() bool {
	return d.FirstBadSeq == 0 && d.LedgerSum.Equal(d.Balance)
}

var (
	// ErrInvalidQuantity indicates a zero quantity delta.
	ErrInvalidQuantity = errors.New("inventory: quantity delta must be non-zero")
	// ErrInvalidReason indicates an unknown ledger reason.
	ErrInvalidReason = errors.New("inventory: unknown reason")
	// ErrBalanceNotFound indicates missing balance row.
	ErrBalanceNotFound = errors.New("inventory balance not found")
)
