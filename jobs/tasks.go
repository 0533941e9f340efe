package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockops/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecheckWaiting re-evaluates WAITING deliveries and transfers.
	TaskRecheckWaiting = "stock:recheck-waiting"
	// TaskLedgerAudit replays the ledger against the balance projection.
	TaskLedgerAudit = "ledger:audit"
)

// recheckUniqueTTL collapses bursts of identical recheck tasks.
const recheckUniqueTTL = 30 * time.Second

// RecheckPayload optionally narrows a recheck to one product/location pair.
type RecheckPayload struct {
	ProductID  *uuid.UUID `json:"product_id,omitempty"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
}

// Pair returns the pair the payload targets, or nil for a full sweep.
func (p RecheckPayload) Pair() *inventory.Pair {
	if p.ProductID == nil || p.LocationID == nil {
		return nil
	}
	return &inventory.Pair{ProductID: *p.ProductID, LocationID: *p.LocationID}
}

// NewRecheckWaitingTask builds a recheck task. A nil pair sweeps every WAITING document.
func NewRecheckWaitingTask(pair *inventory.Pair) (*asynq.Task, error) {
	var payload RecheckPayload
	if pair != nil {
		payload.ProductID = &pair.ProductID
		payload.LocationID = &pair.LocationID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecheckWaiting, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// LedgerAuditPayload carries scheduling metadata.
type LedgerAuditPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewLedgerAuditTask constructs a ledger audit task.
func NewLedgerAuditTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerAuditPayload{RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerAudit, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
