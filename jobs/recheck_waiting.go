package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockops/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockops/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Rechecker re-confirms WAITING documents.
type Rechecker interface {
	RecheckWaiting(ctx context.Context, pair *inventory.Pair) (int, error)
}

// RecheckWaitingJob moves WAITING documents to READY once stock arrives.
type RecheckWaitingJob struct {
	Documents Rechecker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRecheckWaitingJob wires dependencies for the recheck handler.
func NewRecheckWaitingJob(documents Rechecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecheckWaitingJob {
	return &RecheckWaitingJob{Documents: documents, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRecheckWaiting tasks.
func (j *RecheckWaitingJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Documents == nil {
		return errors.New("recheck waiting: handler not configured")
	}
	var payload RecheckPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskRecheckWaiting)
	start := time.Now()
	logger := j.logger()
	pair := payload.Pair()
	if pair != nil {
		logger = logger.With(slog.String("product_id", pair.ProductID.String()), slog.String("location_id", pair.LocationID.String()))
	}

	ready, err := j.Documents.RecheckWaiting(ctx, pair)
	j.metrics().AddConfirmed(ready)
	if err != nil {
		logger.Error("recheck waiting documents", slog.Int("ready", ready), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("rechecked waiting documents", slog.Int("ready", ready), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *RecheckWaitingJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecheckWaiting))
	}
	return slog.Default().With(slog.String("job", TaskRecheckWaiting))
}

func (j *RecheckWaitingJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
