package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
	"github.com/odyssey-erp/odyssey-procure/internal/vendors"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	CreatePR(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error)
	GetPR(ctx context.Context, id int64) (PurchaseRequest, error)
	ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequest, error)
	TransitionPR(ctx context.Context, id int64, from, to PRStatus, entry shared.ApprovalEntry) (PurchaseRequest, error)
	DeletePR(ctx context.Context, id int64) error

	CreateQuotation(ctx context.Context, q Quotation) (Quotation, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	ListQuotations(ctx context.Context, filter QuotationFilter) ([]Quotation, error)
	UpdateQuotation(ctx context.Context, q Quotation) (Quotation, error)
	UpsertQuoteResponse(ctx context.Context, id int64, resp QuoteResponse) (Quotation, error)
	DeleteQuotation(ctx context.Context, id int64) error

	CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error)
	UpdatePO(ctx context.Context, po PurchaseOrder, expected POStatus) (PurchaseOrder, error)
	DeletePO(ctx context.Context, id int64) error

	CreateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGRNs(ctx context.Context, filter GRNFilter) ([]GoodsReceipt, error)
	UpdateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error)
	DeleteGRN(ctx context.Context, id int64) error

	CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error
}

// InventoryPort exposes the ledger operations procurement depends on.
type InventoryPort interface {
	FindByDescription(ctx context.Context, description string) (inventory.Item, error)
	ReceiveInbound(ctx context.Context, input inventory.InboundInput) (inventory.MovementResult, error)
}

// VendorPort resolves vendor references.
type VendorPort interface {
	Get(ctx context.Context, id int64) (vendors.Vendor, error)
}

// SerialAllocator issues document numbers.
type SerialAllocator interface {
	Allocate(ctx context.Context, docCode, department, collection string) (string, error)
}

// IdempotencyPort guards client-supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Dependencies groups Service collaborators. Queue, Idempotency, Audit and
// Metrics are optional.
type Dependencies struct {
	Repo        RepositoryPort
	Inventory   InventoryPort
	Vendors     VendorPort
	Serials     SerialAllocator
	Queue       RetryQueue
	Idempotency IdempotencyPort
	Audit       AuditPort
	Metrics     SyncMetrics
	Logger      *slog.Logger
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	vendors     VendorPort
	serials     SerialAllocator
	queue       RetryQueue
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     SyncMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		inventory:   deps.Inventory,
		vendors:     deps.Vendors,
		serials:     deps.Serials,
		queue:       deps.Queue,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Collections double as serial scopes.
const (
	collectionPurchaseRequests = "purchase_requests"
	collectionPurchaseOrders   = "purchase_orders"
	collectionGoodsReceipts    = "goods_receipts"
	collectionInvoices         = "procurement_invoices"
)

const serialAttempts = 3

// withSerial allocates a serial and runs create with it, allocating again when
// the store reports the serial as taken.
func (s *Service) withSerial(ctx context.Context, docCode, department, collection string, create func(serial string) error) error {
	var err error
	for attempt := 0; attempt < serialAttempts; attempt++ {
		var serial string
		serial, err = s.serials.Allocate(ctx, docCode, department, collection)
		if err != nil {
			return err
		}
		err = create(serial)
		if !errors.Is(err, ErrDuplicateSerial) {
			return err
		}
		s.logger.Warn("serial collision", slog.String("serial", serial), slog.Int("attempt", attempt+1))
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprint(id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err), slog.String("action", action))
	}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
