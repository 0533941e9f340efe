package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the document is in a state that forbids the action.
	ErrInvalidState = errors.New("invalid document state")
	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a posting would drive a balance negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict indicates lock contention exhausted the retry budget.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrAllocation indicates the reference counter could not be advanced.
	ErrAllocation = errors.New("reference allocation failed")
	// ErrDuplicate indicates a unique constraint was hit.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrUnauthorized indicates missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records another field message.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

// Err returns nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError reports an action attempted from a forbidden state.
type StateError struct {
	DocumentID uuid.UUID
	Status     string
	Action     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("document %s: cannot %s in status %s", e.DocumentID, e.Action, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// TransitionError reports a status change outside the permitted table.
type TransitionError struct {
	DocumentID uuid.UUID
	From       string
	To         string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %s: transition %s -> %s not permitted", e.DocumentID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Shortage describes one product/location that cannot cover a document.
type Shortage struct {
	LineID     uuid.UUID       `json:"line_id,omitempty"`
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID uuid.UUID       `json:"location_id"`
	Required   decimal.Decimal `json:"required"`
	Available  decimal.Decimal `json:"available"`
}

// InsufficientStockError lists the shortages detected during posting.
type InsufficientStockError struct {
	DocumentID uuid.UUID
	Shortages  []Shortage
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortages) == 0 {
		return "insufficient stock"
	}
	s := e.Shortages[0]
	msg := fmt.Sprintf("insufficient stock for product %s at %s: required %s, available %s",
		s.ProductID, s.LocationID, s.Required.String(), s.Available.String())
	if n := len(e.Shortages) - 1; n > 0 {
		msg += fmt.Sprintf(" (+%d more)", n)
	}
	return msg
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConflictError wraps the last lock or serialization failure after retries.
type ConflictError struct {
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Err}
}

// AllocationError wraps a reference counter failure.
type AllocationError struct {
	Warehouse string
	Operation string
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate reference %s/%s: %v", e.Warehouse, e.Operation, e.Err)
}

func (e *AllocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAllocation}
	}
	return []error{ErrAllocation, e.Err}
}
