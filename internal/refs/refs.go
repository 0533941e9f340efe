// Package refs allocates human-readable document references of the form
// WH/OP/NNN, one monotonically increasing sequence per warehouse and operation.
package refs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// Operation codes per document type.
const (
	OpReceipt    = "IN"
	OpDelivery   = "OUT"
	OpTransfer   = "INT"
	OpAdjustment = "ADJ"
)

var operationCodes = map[string]string{
	"RECEIPT":    OpReceipt,
	"DELIVERY":   OpDelivery,
	"TRANSFER":   OpTransfer,
	"ADJUSTMENT": OpAdjustment,
}

// ErrUnknownDocType is returned for document types without an operation code.
var ErrUnknownDocType = errors.New("refs: unknown document type")

// OperationCode maps a document type to its reference operation code.
func OperationCode(docType string) (string, error) {
	op, ok := operationCodes[strings.ToUpper(strings.TrimSpace(docType))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocType, docType)
	}
	return op, nil
}

// Format renders a reference; sequences below 1000 are zero padded to three digits.
func Format(warehouseCode, operationCode string, seq int64) string {
	return fmt.Sprintf("%s/%s/%03d", warehouseCode, operationCode, seq)
}

// Parse splits a reference produced by Format.
func Parse(ref string) (warehouseCode, operationCode string, seq int64, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("refs: malformed reference %q", ref)
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 {
		return "", "", 0, fmt.Errorf("refs: malformed sequence in %q", ref)
	}
	return parts[0], parts[1], seq, nil
}

// Counter atomically advances the sequence for a warehouse/operation pair and
// returns the new value. Implementations must never hand out a value twice.
type Counter interface {
	Next(ctx context.Context, warehouseCode, operationCode string) (int64, error)
}

// Allocator turns counter values into references.
type Allocator struct {
	counter Counter
}

// NewAllocator wraps a counter.
func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

// Allocate reserves the next reference for the pair. Any counter failure is
// reported as *shared.AllocationError.
func (a *Allocator) Allocate(ctx context.Context, warehouseCode, operationCode string) (string, error) {
	wh := normaliseCode(warehouseCode)
	op := normaliseCode(operationCode)
	if wh == "" || op == "" {
		return "", &shared.AllocationError{Warehouse: wh, Operation: op, Err: errors.New("warehouse and operation code required")}
	}
	if strings.Contains(wh, "/") || strings.Contains(op, "/") {
		return "", &shared.AllocationError{Warehouse: wh, Operation: op, Err: errors.New("codes must not contain '/'")}
	}
	if a == nil || a.counter == nil {
		return "", &shared.AllocationError{Warehouse: wh, Operation: op, Err: errors.New("counter not configured")}
	}
	seq, err := a.counter.Next(ctx, wh, op)
	if err != nil {
		return "", &shared.AllocationError{Warehouse: wh, Operation: op, Err: err}
	}
	if seq <= 0 {
		return "", &shared.AllocationError{Warehouse: wh, Operation: op, Err: fmt.Errorf("counter returned %d", seq)}
	}
	return Format(wh, op, seq), nil
}

// AllocateFor resolves the operation code for docType before allocating.
func (a *Allocator) AllocateFor(ctx context.Context, warehouseCode, docType string) (string, error) {
	op, err := OperationCode(docType)
	if err != nil {
		return "", &shared.AllocationError{Warehouse: normaliseCode(warehouseCode), Err: err}
	}
	return a.Allocate(ctx, warehouseCode, op)
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
