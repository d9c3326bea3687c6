package procurement

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

const matchTolerance = 0.005

// CreateInvoiceInput registers a supplier invoice.
type CreateInvoiceInput struct {
	PurchaseOrderID int64      `json:"purchaseOrderId" validate:"required,gt=0"`
	GoodsReceiptID  *int64     `json:"goodsReceiptId" validate:"omitempty,gt=0"`
	File            string     `json:"file"`
	Amount          *float64   `json:"amount" validate:"required,gte=0"`
	Status          string     `json:"status"`
	PaymentDate     *time.Time `json:"paymentDate"`
}

// UpdateInvoiceInput patches an invoice.
type UpdateInvoiceInput struct {
	PurchaseOrderID  *int64     `json:"purchaseOrderId" validate:"omitempty,gt=0"`
	GoodsReceiptID   *int64     `json:"goodsReceiptId" validate:"omitempty,gt=0"`
	ClearReceipt     bool       `json:"clearGoodsReceipt"`
	File             *string    `json:"file"`
	Amount           *float64   `json:"amount" validate:"omitempty,gte=0"`
	Status           *string    `json:"status"`
	PaymentDate      *time.Time `json:"paymentDate"`
	ClearPaymentDate bool       `json:"clearPaymentDate"`
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	PurchaseOrderID int64
	Status          string
	Page            shared.ListFilter
}

// MatchLine compares ordered and received quantity for one description.
type MatchLine struct {
	Description string  `json:"description"`
	Ordered     float64 `json:"ordered"`
	Received    float64 `json:"received"`
	Variance    float64 `json:"variance"`
}

// MatchResult is an informational three-way comparison of order, receipts and invoice.
type MatchResult struct {
	InvoiceID       int64       `json:"invoiceId"`
	PurchaseOrderID int64       `json:"purchaseOrderId"`
	ReceiptIDs      []int64     `json:"receiptIds"`
	OrderTotal      float64     `json:"orderTotal"`
	InvoiceAmount   float64     `json:"invoiceAmount"`
	AmountVariance  float64     `json:"amountVariance"`
	Lines           []MatchLine `json:"lines"`
	Matched         bool        `json:"matched"`
}

// CreateInvoice records an invoice against an order and optionally one of its receipts.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Invoice{}, err
	}
	po, err := s.checkInvoiceRefs(ctx, input.PurchaseOrderID, input.GoodsReceiptID)
	if err != nil {
		return Invoice{}, err
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = InvoiceStatusPending
	}
	inv := Invoice{
		PurchaseOrderID: po.ID,
		GoodsReceiptID:  input.GoodsReceiptID,
		File:            strings.TrimSpace(input.File),
		Amount:          *input.Amount,
		Status:          status,
		PaymentDate:     input.PaymentDate,
	}
	var created Invoice
	err = s.withSerial(ctx, serial.DocInvoice, po.Department, collectionInvoices, func(sn string) error {
		inv.Serial = sn
		var err error
		created, err = s.repo.CreateInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", "procurement_invoice", created.ID, map[string]any{
		"serial": created.Serial,
		"amount": created.Amount,
	})
	return created, nil
}

func (s *Service) checkInvoiceRefs(ctx context.Context, poID int64, grnID *int64) (PurchaseOrder, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if grnID == nil {
		return po, nil
	}
	grn, err := s.repo.GetGRN(ctx, *grnID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if grn.PurchaseOrderID != po.ID {
		return PurchaseOrder{}, shared.NewValidationError("goodsReceiptId", "goods receipt belongs to another purchase order")
	}
	return po, nil
}

// GetInvoice returns an invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListInvoices(ctx, filter)
}

// UpdateInvoice patches an invoice, re-checking order and receipt references.
func (s *Service) UpdateInvoice(ctx context.Context, id int64, input UpdateInvoiceInput) (Invoice, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Invoice{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if input.PurchaseOrderID != nil {
		inv.PurchaseOrderID = *input.PurchaseOrderID
	}
	if input.ClearReceipt {
		inv.GoodsReceiptID = nil
	} else if input.GoodsReceiptID != nil {
		v := *input.GoodsReceiptID
		inv.GoodsReceiptID = &v
	}
	if input.PurchaseOrderID != nil || input.GoodsReceiptID != nil {
		if _, err := s.checkInvoiceRefs(ctx, inv.PurchaseOrderID, inv.GoodsReceiptID); err != nil {
			return Invoice{}, err
		}
	}
	if input.File != nil {
		inv.File = strings.TrimSpace(*input.File)
	}
	if input.Amount != nil {
		inv.Amount = *input.Amount
	}
	if input.Status != nil && strings.TrimSpace(*input.Status) != "" {
		inv.Status = strings.TrimSpace(*input.Status)
	}
	if input.ClearPaymentDate {
		inv.PaymentDate = nil
	} else if input.PaymentDate != nil {
		inv.PaymentDate = input.PaymentDate
	}

	updated, err := s.repo.UpdateInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_UPDATE", "procurement_invoice", updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}

// DeleteInvoice removes an invoice.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "INVOICE_DELETE", "procurement_invoice", id, nil)
	return nil
}

// MatchInvoice compares the invoice amount with the order total and ordered with
// received quantities per description. When the invoice names a receipt only that
// receipt counts; otherwise every receipt of the order does. The result is advisory.
func (s *Service) MatchInvoice(ctx context.Context, id int64) (MatchResult, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return MatchResult{}, err
	}
	po, err := s.repo.GetPO(ctx, inv.PurchaseOrderID)
	if err != nil {
		return MatchResult{}, err
	}

	var receipts []GoodsReceipt
	if inv.GoodsReceiptID != nil {
		grn, err := s.repo.GetGRN(ctx, *inv.GoodsReceiptID)
		switch {
		case err == nil:
			receipts = append(receipts, grn)
		case !errors.Is(err, shared.ErrNotFound):
			return MatchResult{}, err
		}
	} else {
		receipts, err = s.repo.ListGRNs(ctx, GRNFilter{
			PurchaseOrderID: po.ID,
			Page:            shared.ListFilter{Limit: shared.MaxListLimit},
		})
		if err != nil {
			return MatchResult{}, err
		}
	}

	ordered := make(map[string]float64)
	received := make(map[string]float64)
	for _, it := range po.Items {
		ordered[it.Description] += it.Quantity
	}
	result := MatchResult{
		InvoiceID:       inv.ID,
		PurchaseOrderID: po.ID,
		ReceiptIDs:      []int64{},
		OrderTotal:      po.TotalAmount,
		InvoiceAmount:   inv.Amount,
		AmountVariance:  round2(inv.Amount - po.TotalAmount),
	}
	for _, grn := range receipts {
		result.ReceiptIDs = append(result.ReceiptIDs, grn.ID)
		for _, it := range grn.Items {
			received[it.Description] += it.Quantity
		}
	}

	descriptions := make([]string, 0, len(ordered)+len(received))
	for d := range ordered {
		descriptions = append(descriptions, d)
	}
	for d := range received {
		if _, ok := ordered[d]; !ok {
			descriptions = append(descriptions, d)
		}
	}
	sort.Strings(descriptions)

	result.Matched = math.Abs(result.AmountVariance) < matchTolerance
	result.Lines = make([]MatchLine, 0, len(descriptions))
	for _, d := range descriptions {
		line := MatchLine{Description: d, Ordered: ordered[d], Received: received[d], Variance: received[d] - ordered[d]}
		if math.Abs(line.Variance) >= matchTolerance {
			result.Matched = false
		}
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
