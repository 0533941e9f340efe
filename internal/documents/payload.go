package documents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// DateLayout is the wire format of scheduled_date.
const DateLayout = "2006-01-02"

// LineInput is a requested line in a create payload.
type LineInput struct {
	ProductID    uuid.UUID       `json:"product_id" validate:"required"`
	QtyExpected  decimal.Decimal `json:"qty_expected"`
	QtyDone      decimal.Decimal `json:"qty_done"`
	LocationFrom *uuid.UUID      `json:"location_from,omitempty"`
	LocationTo   *uuid.UUID      `json:"location_to,omitempty"`
}

// Payload is a decoded create request. The concrete types are
// ReceiptPayload, DeliveryPayload, TransferPayload and AdjustmentPayload.
type Payload interface {
	Type() DocType
	// Validate checks the payload and returns *shared.ValidationError.
	Validate(v *validator.Validate) error
	// Document builds the DRAFT document without id or reference.
	Document() Document
}

// ReceiptPayload creates a RECEIPT.
type ReceiptPayload struct {
	DocType       DocType     `json:"doc_type"`
	Supplier      string      `json:"supplier" validate:"max=255"`
	ScheduledDate string      `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	Responsible   string      `json:"responsible" validate:"max=255"`
	Notes         string      `json:"notes" validate:"max=4000"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// DeliveryPayload creates a DELIVERY.
type DeliveryPayload struct {
	DocType       DocType     `json:"doc_type"`
	Customer      string      `json:"customer" validate:"max=255"`
	ScheduledDate string      `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	Responsible   string      `json:"responsible" validate:"max=255"`
	Notes         string      `json:"notes" validate:"max=4000"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// TransferPayload creates a TRANSFER.
type TransferPayload struct {
	DocType       DocType     `json:"doc_type"`
	ScheduledDate string      `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	Responsible   string      `json:"responsible" validate:"max=255"`
	Notes         string      `json:"notes" validate:"max=4000"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// AdjustmentPayload creates an ADJUSTMENT. qty_done is a signed delta.
type AdjustmentPayload struct {
	DocType       DocType     `json:"doc_type"`
	ScheduledDate string      `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	Responsible   string      `json:"responsible" validate:"max=255"`
	Notes         string      `json:"notes" validate:"max=4000"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// Type returns TypeReceipt.
func (ReceiptPayload) Type() DocType { return TypeReceipt }

// Type returns TypeDelivery.
func (DeliveryPayload) Type() DocType { return TypeDelivery }

// Type returns TypeTransfer.
func (TransferPayload) Type() DocType { return TypeTransfer }

// Type returns TypeAdjustment.
func (AdjustmentPayload) Type() DocType { return TypeAdjustment }

// Validate checks the header tags and every line against the direction
// rules of a RECEIPT, returning a *shared.ValidationError keyed by field.
func (p ReceiptPayload) Validate(v *validator.Validate) error {
	return validatePayload(v, p, TypeReceipt, p.Lines)
}

// Validate checks p against the DELIVERY rules, see ReceiptPayload.Validate.
func (p DeliveryPayload) Validate(v *validator.Validate) error {
	return validatePayload(v, p, TypeDelivery, p.Lines)
}

// Validate checks p against the TRANSFER rules, see ReceiptPayload.Validate.
func (p TransferPayload) Validate(v *validator.Validate) error {
	return validatePayload(v, p, TypeTransfer, p.Lines)
}

// Validate checks p against the ADJUSTMENT rules, see ReceiptPayload.Validate.
func (p AdjustmentPayload) Validate(v *validator.Validate) error {
	return validatePayload(v, p, TypeAdjustment, p.Lines)
}

// Document builds the DRAFT receipt with its supplier; ids and the
// reference are assigned by Service.Create.
func (p ReceiptPayload) Document() Document {
	d := draft(TypeReceipt, p.ScheduledDate, p.Responsible, p.Notes, p.Lines)
	d.Supplier = strings.TrimSpace(p.Supplier)
	return d
}

// Document builds the DRAFT delivery with its customer.
func (p DeliveryPayload) Document() Document {
	d := draft(TypeDelivery, p.ScheduledDate, p.Responsible, p.Notes, p.Lines)
	d.Customer = strings.TrimSpace(p.Customer)
	return d
}

// Document builds the DRAFT transfer.
func (p TransferPayload) Document() Document {
	return draft(TypeTransfer, p.ScheduledDate, p.Responsible, p.Notes, p.Lines)
}

// Document builds the DRAFT adjustment.
func (p AdjustmentPayload) Document() Document {
	return draft(TypeAdjustment, p.ScheduledDate, p.Responsible, p.Notes, p.Lines)
}

// DecodePayload reads the doc_type discriminator and decodes raw strictly
// into the matching payload, so fields foreign to the type are rejected.
func DecodePayload(raw []byte) (Payload, error) {
	var envelope struct {
		DocType string `json:"doc_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("documents: decode payload: %w", err)
	}
	var p Payload
	switch DocType(strings.ToUpper(strings.TrimSpace(envelope.DocType))) {
	case TypeReceipt:
		p = &ReceiptPayload{}
	case TypeDelivery:
		p = &DeliveryPayload{}
	case TypeTransfer:
		p = &TransferPayload{}
	case TypeAdjustment:
		p = &AdjustmentPayload{}
	case "":
		return nil, shared.NewValidationError("doc_type", "required")
	default:
		return nil, shared.NewValidationError("doc_type", fmt.Sprintf("unknown document type %q", envelope.DocType))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("documents: decode %s payload: %w", p.Type(), err)
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ReceiptPayload:
		return *v
	case *DeliveryPayload:
		return *v
	case *TransferPayload:
		return *v
	case *AdjustmentPayload:
		return *v
	}
	return p
}

func validatePayload(v *validator.Validate, p any, t DocType, lines []LineInput) error {
	verr := &shared.ValidationError{}
	if err := shared.ValidateStruct(v, p, ""); err != nil {
		if !mergeValidation(verr, err) {
			return err
		}
	}
	for i, l := range lines {
		checkLine(verr, fmt.Sprintf("lines[%d]", i), t, l.QtyExpected, l.QtyDone, l.LocationFrom, l.LocationTo)
	}
	return verr.Err()
}

// checkLine applies the direction and quantity rules of t to one line.
func checkLine(verr *shared.ValidationError, prefix string, t DocType, expected, done decimal.Decimal, from, to *uuid.UUID) {
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	if expected.IsNegative() {
		verr.Add(field("qty_expected"), "must be at least 0")
	}
	if t != TypeAdjustment && done.IsNegative() {
		verr.Add(field("qty_done"), "must be at least 0")
	}
	hasFrom := from != nil && *from != uuid.Nil
	hasTo := to != nil && *to != uuid.Nil
	switch t {
	case TypeReceipt, TypeAdjustment:
		if !hasTo {
			verr.Add(field("location_to"), fmt.Sprintf("required for %s", t))
		}
		if from != nil {
			verr.Add(field("location_from"), fmt.Sprintf("not allowed for %s", t))
		}
	case TypeDelivery:
		if !hasFrom {
			verr.Add(field("location_from"), fmt.Sprintf("required for %s", t))
		}
		if to != nil {
			verr.Add(field("location_to"), fmt.Sprintf("not allowed for %s", t))
		}
	case TypeTransfer:
		if !hasFrom {
			verr.Add(field("location_from"), fmt.Sprintf("required for %s", t))
		}
		if !hasTo {
			verr.Add(field("location_to"), fmt.Sprintf("required for %s", t))
		}
		if hasFrom && hasTo && *from == *to {
			verr.Add(field("location_to"), "must differ from location_from")
		}
	}
}

func mergeValidation(dst *shared.ValidationError, err error) bool {
	src, ok := err.(*shared.ValidationError)
	if !ok {
		return false
	}
	for k, v := range src.Fields {
		dst.Add(k, v)
	}
	return true
}

func draft(t DocType, scheduled, responsible, notes string, inputs []LineInput) Document {
	d := Document{
		DocType:     t,
		Status:      StatusDraft,
		Responsible: strings.TrimSpace(responsible),
		Notes:       strings.TrimSpace(notes),
	}
	if scheduled != "" {
		if ts, err := time.Parse(DateLayout, scheduled); err == nil {
			d.ScheduledDate = &ts
		}
	}
	d.Lines = make([]Line, 0, len(inputs))
	for i, in := range inputs {
		d.Lines = append(d.Lines, Line{
			LineNo:       i + 1,
			ProductID:    in.ProductID,
			QtyExpected:  in.QtyExpected,
			QtyDone:      in.QtyDone,
			LocationFrom: in.LocationFrom,
			LocationTo:   in.LocationTo,
		})
	}
	return d
}
