package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-procure/internal/jobs"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// InboundPort is the ledger operation replayed by InventorySyncJob.
type InboundPort interface {
	ReceiveInbound(ctx context.Context, input inventory.InboundInput) (inventory.MovementResult, error)
}

// InventorySyncJob replays goods receipt lines whose ledger movement failed
// at receipt time.
type InventorySyncJob struct {
	Inventory InboundPort
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewInventorySyncJob wires dependencies for the sync handler.
func NewInventorySyncJob(inv InboundPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventorySyncJob {
	return &InventorySyncJob{Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle processes inventory sync tasks.
func (j *InventorySyncJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Inventory == nil {
		return errors.New("inventory sync: handler not configured")
	}
	var payload InventorySyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RefKey == "" || payload.Description == "" || payload.Quantity <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInventorySync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("ref_key", payload.RefKey), slog.String("description", payload.Description))

	result, err := j.Inventory.ReceiveInbound(ctx, payload.Input())
	switch {
	case errors.Is(err, inventory.ErrAlreadyApplied):
		j.metrics().AddReplay("already_applied")
		logger.Info("inventory sync already applied")
		return nil
	case errors.Is(err, shared.ErrValidation):
		j.metrics().AddReplay("failed")
		logger.Error("inventory sync rejected", slog.Any("error", err))
		return errors.Join(err, asynq.SkipRetry)
	case err != nil:
		j.metrics().AddReplay("failed")
		logger.Warn("inventory sync retry", slog.Any("error", err))
		return err
	}
	j.metrics().AddReplay("applied")
	logger.Info("inventory sync applied",
		slog.Int64("item_id", result.Item.ID),
		slog.Float64("quantity", result.Item.Quantity))
	return nil
}

func (j *InventorySyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *InventorySyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
