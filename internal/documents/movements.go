package documents

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockops/internal/inventory"
)

// Movements returns the ledger postings implied by validating doc, one or
// two per line in line order. Zero quantities post nothing.
func Movements(doc Document) []inventory.Movement {
	id := doc.ID
	var out []inventory.Movement
	add := func(product uuid.UUID, loc *uuid.UUID, m inventory.Movement) {
		m.ProductID = product
		m.LocationID = *loc
		m.DocumentID = &id
		m.ReferenceNo = doc.ReferenceNo
		out = append(out, m)
	}
	for _, l := range doc.Lines {
		if l.QtyDone.IsZero() {
			continue
		}
		switch doc.DocType {
		case TypeReceipt:
			add(l.ProductID, l.LocationTo, inventory.Movement{QtyDelta: l.QtyDone, Reason: inventory.ReasonReceipt})
		case TypeDelivery:
			add(l.ProductID, l.LocationFrom, inventory.Movement{QtyDelta: l.QtyDone.Neg(), Reason: inventory.ReasonDelivery})
		case TypeTransfer:
			add(l.ProductID, l.LocationFrom, inventory.Movement{QtyDelta: l.QtyDone.Neg(), Reason: inventory.ReasonTransferOut})
			add(l.ProductID, l.LocationTo, inventory.Movement{QtyDelta: l.QtyDone, Reason: inventory.ReasonTransferIn})
		case TypeAdjustment:
			add(l.ProductID, l.LocationTo, inventory.Movement{QtyDelta: l.QtyDone, Reason: inventory.ReasonAdjustment})
		}
	}
	return out
}

// lineForShortage maps a shortage back to the first line drawing on the
// same pair.
func lineForShortage(doc Document, productID, locationID uuid.UUID) uuid.UUID {
	for _, l := range doc.Lines {
		if loc := l.PrimaryLocation(doc.DocType); l.ProductID == productID && loc != nil && *loc == locationID {
			return l.ID
		}
	}
	return uuid.Nil
}
