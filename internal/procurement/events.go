package procurement

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
)

// RetryQueue accepts receipt lines whose ledger update failed so a worker can
// replay them. Replays carry the same RefKey and are applied at most once.
type RetryQueue interface {
	EnqueueInventorySync(ctx context.Context, input inventory.InboundInput) error
}

// SyncMetrics observes receipt line synchronization.
type SyncMetrics interface {
	InventorySyncFailed(queued bool)
}

// FailedItem describes a receipt line whose ledger update did not apply.
type FailedItem struct {
	Line        int    `json:"line"`
	Description string `json:"description"`
	Error       string `json:"error"`
	Queued      bool   `json:"queued"`
}

// ReceiptLineRef is the ledger reference key of a receipt line. line is zero based.
func ReceiptLineRef(receiptID int64, line int) string {
	return fmt.Sprintf("GRN:%d:%d", receiptID, line)
}
