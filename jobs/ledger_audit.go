package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockops/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockops/internal/jobs"
)

// Auditor replays the ledger.
type Auditor interface {
	Audit(ctx context.Context) ([]inventory.Drift, int, error)
}

// DriftObserver receives the number of inconsistent pairs.
type DriftObserver interface {
	ObserveDrift(pairs int)
}

// LedgerAuditJob checks that every balance equals the sum of its ledger entries.
type LedgerAuditJob struct {
	Ledger   Auditor
	Observer DriftObserver
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerAuditJob wires dependencies for the audit handler.
func NewLedgerAuditJob(ledger Auditor, observer DriftObserver, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerAuditJob {
	return &LedgerAuditJob{Ledger: ledger, Observer: observer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerAudit tasks. Drift is reported, not retried.
func (j *LedgerAuditJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger audit: handler not configured")
	}
	tracker := j.metrics().Track(TaskLedgerAudit)
	logger := j.logger()

	drifts, pairs, err := j.Ledger.Audit(ctx)
	if err != nil {
		logger.Error("ledger audit", slog.Any("error", err))
		return tracker.End(err)
	}
	if j.Observer != nil {
		j.Observer.ObserveDrift(len(drifts))
	}
	for _, d := range drifts {
		logger.Error("ledger drift",
			slog.String("product_id", d.ProductID.String()),
			slog.String("location_id", d.LocationID.String()),
			slog.String("ledger_sum", d.LedgerSum.String()),
			slog.String("balance", d.Balance.String()),
			slog.Int64("first_bad_seq", d.FirstBadSeq),
		)
	}
	logger.Info("ledger audit completed", slog.Int("pairs", pairs), slog.Int("drifted", len(drifts)))
	return tracker.End(nil)
}

func (j *LedgerAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerAudit))
	}
	return slog.Default().With(slog.String("job", TaskLedgerAudit))
}

func (j *LedgerAuditJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
