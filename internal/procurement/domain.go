package procurement

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// PRStatus is the purchase request lifecycle status.
type PRStatus string

const (
	PRStatusPending           PRStatus = "pending"
	PRStatusApproved          PRStatus = "approved"
	PRStatusSentToProcurement PRStatus = "sent_to_procurement"
	PRStatusRejected          PRStatus = "rejected"
)

// Orderable reports whether a purchase order may be raised against the request.
func (s PRStatus) Orderable() bool {
	return s == PRStatusApproved || s == PRStatusSentToProcurement
}

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusOpen      POStatus = "open"
	POStatusOrdered   POStatus = "ordered"
	POStatusDelivered POStatus = "delivered"
	POStatusCancelled POStatus = "cancelled"
)

var poRank = map[POStatus]int{
	POStatusOpen:      0,
	POStatusOrdered:   1,
	POStatusDelivered: 2,
}

// CanMoveTo reports whether the order may move from s to next.
// Progress is forward only; cancellation is allowed until delivery.
func (s POStatus) CanMoveTo(next POStatus) bool {
	if s == next {
		return true
	}
	if next == POStatusCancelled {
		return s == POStatusOpen || s == POStatusOrdered
	}
	from, okFrom := poRank[s]
	to, okTo := poRank[next]
	return okFrom && okTo && to > from
}

// GRNStatus is the goods receipt review status.
type GRNStatus string

const (
	GRNStatusReceived GRNStatus = "received"
	GRNStatusVerified GRNStatus = "verified"
	GRNStatusDisputed GRNStatus = "disputed"
)

// ApprovalStatus is the quotation decision status.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Default status for quotation responses and invoices.
const (
	ResponseStatusSubmitted = "submitted"
	InvoiceStatusPending    = "pending"
)

// PurchaseRequest captures a need for an item.
type PurchaseRequest struct {
	ID              int64                  `json:"id"`
	Serial          string                 `json:"serial"`
	ItemDescription string                 `json:"itemDescription"`
	Quantity        float64                `json:"quantity"`
	Priority        string                 `json:"priority"`
	BudgetCode      string                 `json:"budgetCode"`
	Department      string                 `json:"department"`
	Requester       string                 `json:"requester"`
	Attachments     []string               `json:"attachments"`
	Status          PRStatus               `json:"status"`
	ApprovalHistory []shared.ApprovalEntry `json:"approvalHistory"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// QuoteResponse is one vendor's answer to a quotation.
type QuoteResponse struct {
	VendorID    int64     `json:"vendorId"`
	File        string    `json:"file,omitempty"`
	Price       float64   `json:"price"`
	Notes       string    `json:"notes,omitempty"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Quotation collects vendor responses for one purchase request.
type Quotation struct {
	ID                int64           `json:"id"`
	PurchaseRequestID int64           `json:"purchaseRequestId"`
	Vendors           []int64         `json:"vendors"`
	Responses         []QuoteResponse `json:"responses"`
	SelectedVendor    *int64          `json:"selectedVendor,omitempty"`
	Justification     string          `json:"justification,omitempty"`
	ApprovalStatus    ApprovalStatus  `json:"approvalStatus"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Invited reports whether vendorID was invited.
func (q Quotation) Invited(vendorID int64) bool {
	for _, v := range q.Vendors {
		if v == vendorID {
			return true
		}
	}
	return false
}

// Response returns the response submitted by vendorID.
func (q Quotation) Response(vendorID int64) (QuoteResponse, bool) {
	for _, r := range q.Responses {
		if r.VendorID == vendorID {
			return r, true
		}
	}
	return QuoteResponse{}, false
}

// POItem is an ordered line.
type POItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
}

// PurchaseOrder commits to a vendor and price.
type PurchaseOrder struct {
	ID                int64     `json:"id"`
	PONumber          string    `json:"poNumber"`
	PurchaseRequestID int64     `json:"purchaseRequestId"`
	VendorID          int64     `json:"vendorId"`
	QuotationID       *int64    `json:"quotationId,omitempty"`
	Department        string    `json:"department"`
	Items             []POItem  `json:"items"`
	TotalAmount       float64   `json:"totalAmount"`
	Terms             string    `json:"terms,omitempty"`
	Status            POStatus  `json:"status"`
	Documents         []string  `json:"documents"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// GRNItem is a received line.
type GRNItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Notes       string  `json:"notes,omitempty"`
}

// GoodsReceipt records physical receipt against a purchase order.
type GoodsReceipt struct {
	ID              int64     `json:"id"`
	Serial          string    `json:"serial"`
	PurchaseOrderID int64     `json:"purchaseOrderId"`
	ReceivedBy      string    `json:"receivedBy"`
	ReceivedDate    time.Time `json:"receivedDate"`
	Items           []GRNItem `json:"items"`
	Documents       []string  `json:"documents"`
	Status          GRNStatus `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Invoice is a supplier invoice against a purchase order.
type Invoice struct {
	ID              int64      `json:"id"`
	Serial          string     `json:"serial"`
	PurchaseOrderID int64      `json:"purchaseOrderId"`
	GoodsReceiptID  *int64     `json:"goodsReceiptId,omitempty"`
	File            string     `json:"file,omitempty"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	PaymentDate     *time.Time `json:"paymentDate,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

var (
	// ErrPurchaseRequestNotFound indicates the request does not exist.
	ErrPurchaseRequestNotFound = fmt.Errorf("purchase request: %w", shared.ErrNotFound)
	// ErrQuotationNotFound indicates the quotation does not exist.
	ErrQuotationNotFound = fmt.Errorf("quotation: %w", shared.ErrNotFound)
	// ErrPurchaseOrderNotFound indicates the order does not exist.
	ErrPurchaseOrderNotFound = fmt.Errorf("purchase order: %w", shared.ErrNotFound)
	// ErrGoodsReceiptNotFound indicates the receipt does not exist.
	ErrGoodsReceiptNotFound = fmt.Errorf("goods receipt: %w", shared.ErrNotFound)
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("procurement invoice: %w", shared.ErrNotFound)

	// ErrStockSufficient refuses approval when stock is at or above the reorder point.
	ErrStockSufficient = fmt.Errorf("procurement: stock is at or above reorder point: %w", shared.ErrConflict)
	// ErrInvalidTransition occurs when a status change violates the workflow.
	ErrInvalidTransition = fmt.Errorf("procurement: invalid status transition: %w", shared.ErrConflict)
	// ErrStaleStatus occurs when the status changed between read and write.
	ErrStaleStatus = fmt.Errorf("procurement: status changed concurrently: %w", shared.ErrConflict)
	// ErrPurchaseRequestNotApproved blocks orders against unapproved requests.
	ErrPurchaseRequestNotApproved = fmt.Errorf("procurement: purchase request is not approved: %w", shared.ErrConflict)
	// ErrVendorNotEligible blocks orders to unapproved or blacklisted vendors.
	ErrVendorNotEligible = fmt.Errorf("procurement: vendor is not approved or is blacklisted: %w", shared.ErrConflict)
	// ErrQuotationNotApproved blocks orders that cite an undecided quotation.
	ErrQuotationNotApproved = fmt.Errorf("procurement: quotation is not approved: %w", shared.ErrConflict)
	// ErrQuotationExists enforces one quotation per purchase request.
	ErrQuotationExists = fmt.Errorf("procurement: quotation already exists for purchase request: %w", shared.ErrDuplicate)
	// ErrDuplicateSerial surfaces a serial collision. Callers may retry.
	ErrDuplicateSerial = fmt.Errorf("procurement: serial already issued: %w", shared.ErrDuplicate)
)
