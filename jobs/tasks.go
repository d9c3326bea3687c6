package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueInventory carries goods receipt ledger retries.
	QueueInventory = "inventory"

	// TaskInventorySync replays a goods receipt line into the inventory ledger.
	TaskInventorySync = "inventory:sync"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	defaultKeyRetention = 72 * time.Hour
)

// InventorySyncPayload is the queued form of an inbound movement.
type InventorySyncPayload struct {
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	Date        time.Time `json:"date"`
	User        string    `json:"user"`
	Notes       string    `json:"notes"`
	RefKey      string    `json:"refKey"`
}

// Input converts the payload back to a ledger input.
func (p InventorySyncPayload) Input() inventory.InboundInput {
	return inventory.InboundInput{
		Description: p.Description,
		Quantity:    p.Quantity,
		Date:        p.Date,
		User:        p.User,
		Notes:       p.Notes,
		RefKey:      p.RefKey,
	}
}

// NewInventorySyncTask constructs an inventory sync task.
func NewInventorySyncTask(input inventory.InboundInput) (*asynq.Task, error) {
	data, err := json.Marshal(InventorySyncPayload{
		Description: input.Description,
		Quantity:    input.Quantity,
		Date:        input.Date,
		User:        input.User,
		Notes:       input.Notes,
		RefKey:      input.RefKey,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventorySync, data), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retentionHours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
