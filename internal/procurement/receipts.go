package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// ErrPurchaseOrderCancelled blocks receipts against cancelled orders.
var ErrPurchaseOrderCancelled = fmt.Errorf("procurement: purchase order is cancelled: %w", shared.ErrConflict)

const idempotencyModuleGRN = "procurement.grn"

// GRNItemInput is a received line payload.
type GRNItemInput struct {
	Description string   `json:"description" validate:"required"`
	Quantity    *float64 `json:"quantity" validate:"required,gt=0"`
	Notes       string   `json:"notes"`
}

// CreateGRNInput describes GRN creation.
type CreateGRNInput struct {
	PurchaseOrderID int64          `json:"purchaseOrderId" validate:"required,gt=0"`
	ReceivedBy      string         `json:"receivedBy" validate:"required"`
	ReceivedDate    *time.Time     `json:"receivedDate"`
	Items           []GRNItemInput `json:"items" validate:"required,min=1,dive"`
	Documents       []string       `json:"documents"`
	IdempotencyKey  string         `json:"-"`
}

// UpdateGRNInput patches the mutable parts of a receipt.
type UpdateGRNInput struct {
	Status    *string  `json:"status" validate:"omitempty,oneof=received verified disputed"`
	Documents []string `json:"documents"`
}

// GRNFilter narrows receipt listings.
type GRNFilter struct {
	PurchaseOrderID int64
	Status          string
	Page            shared.ListFilter
}

// ReceiptResult is the outcome of recording a receipt. The receipt is durable
// whenever Success is true; FailedItems lists lines the ledger did not take yet.
type ReceiptResult struct {
	Success         bool         `json:"success"`
	Receipt         GoodsReceipt `json:"receipt"`
	InventorySynced int          `json:"inventorySynced"`
	FailedItems     []FailedItem `json:"failedItems"`
}

// CreateGoodsReceipt records a receipt against a purchase order and then posts
// every line to the inventory ledger. Ledger failures never fail the call: they are
// logged, counted and handed to the retry queue.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput) (ReceiptResult, error) {
	input.ReceivedBy = strings.TrimSpace(input.ReceivedBy)
	if input.ReceivedBy == "" {
		input.ReceivedBy = shared.ActorFromContext(ctx)
	}
	for i := range input.Items {
		input.Items[i].Description = strings.TrimSpace(input.Items[i].Description)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return ReceiptResult{}, err
	}
	po, err := s.repo.GetPO(ctx, input.PurchaseOrderID)
	if err != nil {
		return ReceiptResult{}, err
	}
	if po.Status == POStatusCancelled {
		return ReceiptResult{}, ErrPurchaseOrderCancelled
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModuleGRN); err != nil {
			return ReceiptResult{}, err
		}
	}

	receivedDate := s.now()
	if input.ReceivedDate != nil && !input.ReceivedDate.IsZero() {
		receivedDate = input.ReceivedDate.UTC()
	}
	items := make([]GRNItem, 0, len(input.Items))
	for _, it := range input.Items {
		items = append(items, GRNItem{Description: it.Description, Quantity: *it.Quantity, Notes: strings.TrimSpace(it.Notes)})
	}
	grn := GoodsReceipt{
		PurchaseOrderID: po.ID,
		ReceivedBy:      input.ReceivedBy,
		ReceivedDate:    receivedDate,
		Items:           items,
		Documents:       nonNilStrings(input.Documents),
		Status:          GRNStatusReceived,
	}
	var created GoodsReceipt
	err = s.withSerial(ctx, serial.DocGoodsReceipt, po.Department, collectionGoodsReceipts, func(sn string) error {
		grn.Serial = sn
		var err error
		created, err = s.repo.CreateGRN(ctx, grn)
		return err
	})
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return ReceiptResult{}, err
	}
	s.recordAudit(ctx, "GRN_CREATE", "goods_receipt", created.ID, map[string]any{
		"serial":            created.Serial,
		"purchase_order_id": created.PurchaseOrderID,
		"lines":             len(created.Items),
	})

	// The receipt is committed; a caller going away must not stop the ledger posting.
	synced, failed := s.syncInventory(context.WithoutCancel(ctx), created)
	return ReceiptResult{Success: true, Receipt: created, InventorySynced: synced, FailedItems: failed}, nil
}

func (s *Service) syncInventory(ctx context.Context, grn GoodsReceipt) (int, []FailedItem) {
	synced := 0
	failed := []FailedItem{}
	for i, item := range grn.Items {
		input := inventory.InboundInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			Date:        grn.ReceivedDate,
			User:        grn.ReceivedBy,
			Notes:       receiptNote(grn, i, item),
			RefKey:      ReceiptLineRef(grn.ID, i),
		}
		_, err := s.inventory.ReceiveInbound(ctx, input)
		if err == nil || errors.Is(err, inventory.ErrAlreadyApplied) {
			synced++
			continue
		}

		queued := false
		if s.queue != nil && !errors.Is(err, shared.ErrValidation) {
			if qerr := s.queue.EnqueueInventorySync(ctx, input); qerr != nil {
				s.logger.Error("enqueue inventory sync failed",
					slog.Any("error", qerr),
					slog.String("ref_key", input.RefKey))
			} else {
				queued = true
			}
		}
		s.logger.Error("inventory sync failed",
			slog.Any("error", err),
			slog.Int64("grn_id", grn.ID),
			slog.String("serial", grn.Serial),
			slog.Int("line", i),
			slog.String("description", item.Description),
			slog.Bool("queued", queued))
		if s.metrics != nil {
			s.metrics.InventorySyncFailed(queued)
		}
		failed = append(failed, FailedItem{Line: i, Description: item.Description, Error: err.Error(), Queued: queued})
	}
	return synced, failed
}

func receiptNote(grn GoodsReceipt, line int, item GRNItem) string {
	note := "GRN " + grn.Serial + " line " + strconv.Itoa(line+1)
	if item.Notes != "" {
		note += ": " + item.Notes
	}
	return note
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key failed", slog.Any("error", err), slog.String("key", key))
	}
}

// GetGoodsReceipt returns a receipt.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListGoodsReceipts returns receipts.
func (s *Service) ListGoodsReceipts(ctx context.Context, filter GRNFilter) ([]GoodsReceipt, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListGRNs(ctx, filter)
}

// UpdateGoodsReceipt changes the review status and documents. Lines, dates and
// the receiver are immutable.
func (s *Service) UpdateGoodsReceipt(ctx context.Context, id int64, input UpdateGRNInput) (GoodsReceipt, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return GoodsReceipt{}, err
	}
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if input.Status != nil {
		grn.Status = GRNStatus(*input.Status)
	}
	if input.Documents != nil {
		grn.Documents = input.Documents
	}
	updated, err := s.repo.UpdateGRN(ctx, grn)
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, "GRN_UPDATE", "goods_receipt", updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}

// DeleteGoodsReceipt removes a receipt. Ledger movements it produced stay.
func (s *Service) DeleteGoodsReceipt(ctx context.Context, id int64) error {
	if err := s.repo.DeleteGRN(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "GRN_DELETE", "goods_receipt", id, nil)
	return nil
}
