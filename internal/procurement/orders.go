package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// POItemInput is an order line payload.
type POItemInput struct {
	Description string   `json:"description" validate:"required"`
	Quantity    *float64 `json:"quantity" validate:"required,gt=0"`
	Price       *float64 `json:"price" validate:"required,gte=0"`
}

// CreatePOInput defines data to create PO from PR.
type CreatePOInput struct {
	PurchaseRequestID int64         `json:"purchaseRequestId" validate:"required,gt=0"`
	VendorID          int64         `json:"vendorId" validate:"required,gt=0"`
	QuotationID       *int64        `json:"quotationId" validate:"omitempty,gt=0"`
	Items             []POItemInput `json:"items" validate:"required,min=1,dive"`
	TotalAmount       *float64      `json:"totalAmount" validate:"omitempty,gte=0"`
	Terms             string        `json:"terms"`
	Documents         []string      `json:"documents"`
}

// UpdatePOInput patches an order. A nil Items slice leaves the lines untouched.
type UpdatePOInput struct {
	Status      *string       `json:"status" validate:"omitempty,oneof=open ordered delivered cancelled"`
	Items       []POItemInput `json:"items" validate:"omitempty,min=1,dive"`
	TotalAmount *float64      `json:"totalAmount" validate:"omitempty,gte=0"`
	Terms       *string       `json:"terms"`
	Documents   []string      `json:"documents"`
}

// POFilter narrows order listings.
type POFilter struct {
	Status            string
	VendorID          int64
	PurchaseRequestID int64
	Page              shared.ListFilter
}

// CreatePurchaseOrder commits an approved request to an eligible vendor.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	trimItems(input.Items)
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseOrder{}, err
	}
	pr, err := s.repo.GetPR(ctx, input.PurchaseRequestID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !pr.Status.Orderable() {
		return PurchaseOrder{}, ErrPurchaseRequestNotApproved
	}
	vendor, err := s.vendors.Get(ctx, input.VendorID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !vendor.Eligible() {
		return PurchaseOrder{}, ErrVendorNotEligible
	}
	if input.QuotationID != nil {
		if err := s.checkOrderQuotation(ctx, *input.QuotationID, pr.ID, vendor.ID); err != nil {
			return PurchaseOrder{}, err
		}
	}

	items := toPOItems(input.Items)
	po := PurchaseOrder{
		PurchaseRequestID: pr.ID,
		VendorID:          vendor.ID,
		QuotationID:       input.QuotationID,
		Department:        pr.Department,
		Items:             items,
		TotalAmount:       orderTotal(items),
		Terms:             strings.TrimSpace(input.Terms),
		Status:            POStatusOpen,
		Documents:         nonNilStrings(input.Documents),
	}
	if input.TotalAmount != nil {
		po.TotalAmount = *input.TotalAmount
	}
	var created PurchaseOrder
	err = s.withSerial(ctx, serial.DocPurchaseOrder, pr.Department, collectionPurchaseOrders, func(sn string) error {
		po.PONumber = sn
		var err error
		created, err = s.repo.CreatePO(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", "purchase_order", created.ID, map[string]any{
		"po_number": created.PONumber,
		"vendor_id": created.VendorID,
		"total":     created.TotalAmount,
	})
	return created, nil
}

func (s *Service) checkOrderQuotation(ctx context.Context, quotationID, prID, vendorID int64) error {
	q, err := s.repo.GetQuotation(ctx, quotationID)
	if err != nil {
		return err
	}
	if q.PurchaseRequestID != prID {
		return shared.NewValidationError("quotationId", "quotation belongs to another purchase request")
	}
	if q.ApprovalStatus != ApprovalApproved {
		return ErrQuotationNotApproved
	}
	if q.SelectedVendor == nil || *q.SelectedVendor != vendorID {
		return shared.NewValidationError("vendorId", "vendor does not match the quotation selection")
	}
	return nil
}

// GetPurchaseOrder returns an order.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPurchaseOrders returns orders.
func (s *Service) ListPurchaseOrders(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListPOs(ctx, filter)
}

// UpdatePurchaseOrder patches an order. Status only moves forward; the write is
// rejected when the stored status changed since it was read.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, id int64, input UpdatePOInput) (PurchaseOrder, error) {
	trimItems(input.Items)
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseOrder{}, err
	}
	if input.Items != nil && len(input.Items) == 0 {
		return PurchaseOrder{}, shared.NewValidationError("items", "must have at least 1 entries")
	}
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	expected := po.Status
	if input.Status != nil {
		next := POStatus(*input.Status)
		if !po.Status.CanMoveTo(next) {
			return PurchaseOrder{}, fmt.Errorf("purchase order %s %s -> %s: %w", po.PONumber, po.Status, next, ErrInvalidTransition)
		}
		po.Status = next
	}
	if input.Items != nil {
		po.Items = toPOItems(input.Items)
		if input.TotalAmount == nil {
			po.TotalAmount = orderTotal(po.Items)
		}
	}
	if input.TotalAmount != nil {
		po.TotalAmount = *input.TotalAmount
	}
	if input.Terms != nil {
		po.Terms = strings.TrimSpace(*input.Terms)
	}
	if input.Documents != nil {
		po.Documents = input.Documents
	}

	updated, err := s.repo.UpdatePO(ctx, po, expected)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if updated.Status != expected {
		s.logger.Info("purchase order status changed",
			slog.Int64("id", updated.ID),
			slog.String("po_number", updated.PONumber),
			slog.String("from", string(expected)),
			slog.String("to", string(updated.Status)))
	}
	s.recordAudit(ctx, "PO_UPDATE", "purchase_order", updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}

// DeletePurchaseOrder removes an order.
func (s *Service) DeletePurchaseOrder(ctx context.Context, id int64) error {
	if err := s.repo.DeletePO(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_DELETE", "purchase_order", id, nil)
	return nil
}

func trimItems(items []POItemInput) {
	for i := range items {
		items[i].Description = strings.TrimSpace(items[i].Description)
	}
}

func toPOItems(in []POItemInput) []POItem {
	out := make([]POItem, 0, len(in))
	for _, it := range in {
		out = append(out, POItem{Description: it.Description, Quantity: *it.Quantity, Price: *it.Price})
	}
	return out
}

func orderTotal(items []POItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Quantity * it.Price
	}
	return math.Round(total*100) / 100
}
