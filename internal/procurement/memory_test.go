package procurement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	"github.com/odyssey-erp/odyssey-procure/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
	"github.com/odyssey-erp/odyssey-procure/internal/vendors"
)

type memoryProcRepo struct {
	mu         sync.Mutex
	nextID     int64
	prs        map[int64]PurchaseRequest
	quotations map[int64]Quotation
	pos        map[int64]PurchaseOrder
	grns       map[int64]GoodsReceipt
	invoices   map[int64]Invoice
	serials    map[string]bool

	failCreateGRN error
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		prs:        make(map[int64]PurchaseRequest),
		quotations: make(map[int64]Quotation),
		pos:        make(map[int64]PurchaseOrder),
		grns:       make(map[int64]GoodsReceipt),
		invoices:   make(map[int64]Invoice),
		serials:    make(map[string]bool),
	}
}

func (r *memoryProcRepo) claim(serial string) (int64, error) {
	if r.serials[serial] {
		return 0, ErrDuplicateSerial
	}
	r.serials[serial] = true
	r.nextID++
	return r.nextID, nil
}

func sortedValues[T any](m map[int64]T, keep func(T) bool) []T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	var out []T
	for _, id := range ids {
		if keep(m[id]) {
			out = append(out, m[id])
		}
	}
	return out
}

func (r *memoryProcRepo) CreatePR(_ context.Context, pr PurchaseRequest) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.claim(pr.Serial)
	if err != nil {
		return PurchaseRequest{}, err
	}
	pr.ID = id
	pr.CreatedAt = time.Now().UTC()
	pr.UpdatedAt = pr.CreatedAt
	r.prs[id] = pr
	return pr, nil
}

func (r *memoryProcRepo) GetPR(_ context.Context, id int64) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.prs[id]
	if !ok {
		return PurchaseRequest{}, ErrPurchaseRequestNotFound
	}
	pr.ApprovalHistory = append([]shared.ApprovalEntry{}, pr.ApprovalHistory...)
	return pr, nil
}

func (r *memoryProcRepo) ListPRs(_ context.Context, filter PRFilter) ([]PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedValues(r.prs, func(pr PurchaseRequest) bool {
		return (filter.Status == "" || string(pr.Status) == filter.Status) &&
			(filter.Department == "" || pr.Department == filter.Department)
	}), nil
}

func (r *memoryProcRepo) TransitionPR(_ context.Context, id int64, from, to PRStatus, entry shared.ApprovalEntry) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.prs[id]
	if !ok {
		return PurchaseRequest{}, ErrPurchaseRequestNotFound
	}
	if pr.Status != from {
		return PurchaseRequest{}, ErrStaleStatus
	}
	pr.Status = to
	pr.ApprovalHistory = append(append([]shared.ApprovalEntry{}, pr.ApprovalHistory...), entry)
	r.prs[id] = pr
	return pr, nil
}

func (r *memoryProcRepo) DeletePR(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prs[id]; !ok {
		return ErrPurchaseRequestNotFound
	}
	delete(r.prs, id)
	return nil
}

func (r *memoryProcRepo) CreateQuotation(_ context.Context, q Quotation) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.quotations {
		if existing.PurchaseRequestID == q.PurchaseRequestID {
			return Quotation{}, ErrQuotationExists
		}
	}
	r.nextID++
	q.ID = r.nextID
	r.quotations[q.ID] = q
	return q, nil
}

func (r *memoryProcRepo) GetQuotation(_ context.Context, id int64) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	q.Responses = append([]QuoteResponse{}, q.Responses...)
	return q, nil
}

func (r *memoryProcRepo) ListQuotations(_ context.Context, filter QuotationFilter) ([]Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedValues(r.quotations, func(q Quotation) bool {
		return filter.PurchaseRequestID == 0 || q.PurchaseRequestID == filter.PurchaseRequestID
	}), nil
}

func (r *memoryProcRepo) UpdateQuotation(_ context.Context, q Quotation) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.quotations[q.ID]; !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	r.quotations[q.ID] = q
	return q, nil
}

func (r *memoryProcRepo) UpsertQuoteResponse(_ context.Context, id int64, resp QuoteResponse) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	responses := make([]QuoteResponse, 0, len(q.Responses)+1)
	for _, existing := range q.Responses {
		if existing.VendorID != resp.VendorID {
			responses = append(responses, existing)
		}
	}
	q.Responses = append(responses, resp)
	r.quotations[id] = q
	return q, nil
}

func (r *memoryProcRepo) DeleteQuotation(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.quotations[id]; !ok {
		return ErrQuotationNotFound
	}
	delete(r.quotations, id)
	return nil
}

func (r *memoryProcRepo) CreatePO(_ context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.claim(po.PONumber)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.ID = id
	r.pos[id] = po
	return po, nil
}

func (r *memoryProcRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return po, nil
}

func (r *memoryProcRepo) ListPOs(_ context.Context, filter POFilter) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedValues(r.pos, func(po PurchaseOrder) bool {
		return (filter.Status == "" || string(po.Status) == filter.Status) &&
			(filter.VendorID == 0 || po.VendorID == filter.VendorID) &&
			(filter.PurchaseRequestID == 0 || po.PurchaseRequestID == filter.PurchaseRequestID)
	}), nil
}

func (r *memoryProcRepo) UpdatePO(_ context.Context, po PurchaseOrder, expected POStatus) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.pos[po.ID]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	if current.Status != expected {
		return PurchaseOrder{}, ErrStaleStatus
	}
	r.pos[po.ID] = po
	return po, nil
}

func (r *memoryProcRepo) DeletePO(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pos[id]; !ok {
		return ErrPurchaseOrderNotFound
	}
	delete(r.pos, id)
	return nil
}

func (r *memoryProcRepo) CreateGRN(_ context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateGRN != nil {
		return GoodsReceipt{}, r.failCreateGRN
	}
	id, err := r.claim(g.Serial)
	if err != nil {
		return GoodsReceipt{}, err
	}
	g.ID = id
	r.grns[id] = g
	return g, nil
}

func (r *memoryProcRepo) GetGRN(_ context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrGoodsReceiptNotFound
	}
	return g, nil
}

func (r *memoryProcRepo) ListGRNs(_ context.Context, filter GRNFilter) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedValues(r.grns, func(g GoodsReceipt) bool {
		return (filter.PurchaseOrderID == 0 || g.PurchaseOrderID == filter.PurchaseOrderID) &&
			(filter.Status == "" || string(g.Status) == filter.Status)
	}), nil
}

func (r *memoryProcRepo) UpdateGRN(_ context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.grns[g.ID]
	if !ok {
		return GoodsReceipt{}, ErrGoodsReceiptNotFound
	}
	current.Status = g.Status
	current.Documents = g.Documents
	r.grns[g.ID] = current
	return current, nil
}

func (r *memoryProcRepo) DeleteGRN(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grns[id]; !ok {
		return ErrGoodsReceiptNotFound
	}
	delete(r.grns, id)
	return nil
}

func (r *memoryProcRepo) CreateInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.claim(inv.Serial)
	if err != nil {
		return Invoice{}, err
	}
	inv.ID = id
	r.invoices[id] = inv
	return inv, nil
}

func (r *memoryProcRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryProcRepo) ListInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedValues(r.invoices, func(inv Invoice) bool {
		return (filter.PurchaseOrderID == 0 || inv.PurchaseOrderID == filter.PurchaseOrderID) &&
			(filter.Status == "" || inv.Status == filter.Status)
	}), nil
}

func (r *memoryProcRepo) UpdateInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryProcRepo) DeleteInvoice(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[id]; !ok {
		return ErrInvoiceNotFound
	}
	delete(r.invoices, id)
	return nil
}

type memorySequencer struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func (s *memorySequencer) ReserveNext(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs == nil {
		s.seqs = make(map[string]int64)
	}
	s.seqs[scope]++
	return s.seqs[scope], nil
}

type fakeVendors struct {
	mu      sync.Mutex
	vendors map[int64]vendors.Vendor
}

func (f *fakeVendors) put(v vendors.Vendor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vendors == nil {
		f.vendors = make(map[int64]vendors.Vendor)
	}
	f.vendors[v.ID] = v
}

func (f *fakeVendors) Get(_ context.Context, id int64) (vendors.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[id]
	if !ok {
		return vendors.Vendor{}, vendors.ErrVendorNotFound
	}
	return v, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	err   error
	tasks []inventory.InboundInput
}

func (q *fakeQueue) EnqueueInventorySync(_ context.Context, input inventory.InboundInput) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, input)
	return nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]string)
	}
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

type syncCounter struct {
	mu     sync.Mutex
	failed int
	queued int
}

func (c *syncCounter) InventorySyncFailed(queued bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	if queued {
		c.queued++
	}
}

// cancelAwareInventory fails movements whose context is already done.
type cancelAwareInventory struct {
	InventoryPort
}

func (c cancelAwareInventory) ReceiveInbound(ctx context.Context, input inventory.InboundInput) (inventory.MovementResult, error) {
	if err := ctx.Err(); err != nil {
		return inventory.MovementResult{}, err
	}
	return c.InventoryPort.ReceiveInbound(ctx, input)
}

type fixture struct {
	svc     *Service
	repo    *memoryProcRepo
	inv     *inventory.Service
	invRepo *inventorytest.MemoryRepo
	vendors *fakeVendors
	queue   *fakeQueue
	idem    *fakeIdempotency
	metrics *syncCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemoryProcRepo(),
		invRepo: inventorytest.NewMemoryRepo(),
		vendors: &fakeVendors{},
		queue:   &fakeQueue{},
		idem:    &fakeIdempotency{},
		metrics: &syncCounter{},
	}
	f.inv = inventory.NewService(f.invRepo, nil, nil, inventory.ServiceConfig{})
	f.svc = NewService(Dependencies{
		Repo:        f.repo,
		Inventory:   f.inv,
		Vendors:     f.vendors,
		Serials:     serial.NewAllocator(&memorySequencer{}, time.UTC),
		Queue:       f.queue,
		Idempotency: f.idem,
		Metrics:     f.metrics,
	})
	f.vendors.put(vendors.Vendor{ID: 1, Name: "PT Sumber Makmur", RegistrationStatus: vendors.RegistrationApproved, Status: vendors.StatusActive})
	f.vendors.put(vendors.Vendor{ID: 2, Name: "CV Teknik Jaya", RegistrationStatus: vendors.RegistrationApproved, Status: vendors.StatusActive})
	f.vendors.put(vendors.Vendor{ID: 3, Name: "Pending Supplies", RegistrationStatus: vendors.RegistrationPending, Status: vendors.StatusInactive})
	f.vendors.put(vendors.Vendor{ID: 4, Name: "Blacklisted Co", RegistrationStatus: vendors.RegistrationApproved, Status: vendors.StatusBlacklisted})
	return f
}

func actorCtx(actor string) context.Context {
	return shared.ContextWithActor(context.Background(), actor)
}

func qty(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

func (f *fixture) pendingPR(t *testing.T, description string) PurchaseRequest {
	t.Helper()
	pr, err := f.svc.CreatePurchaseRequest(actorCtx("requester"), CreatePRInput{
		ItemDescription: description,
		Quantity:        qty(10),
		Priority:        "high",
		BudgetCode:      "OPEX-24",
		Department:      "HSE",
	})
	require.NoError(t, err)
	return pr
}

func (f *fixture) approvedPR(t *testing.T, description string) PurchaseRequest {
	t.Helper()
	pr := f.pendingPR(t, description)
	pr, err := f.svc.UpdatePurchaseRequestStatus(context.Background(), pr.ID, UpdatePRStatusInput{Status: "approved"}, "manager")
	require.NoError(t, err)
	return pr
}

func (f *fixture) openPO(t *testing.T, items ...POItemInput) PurchaseOrder {
	t.Helper()
	if len(items) == 0 {
		items = []POItemInput{{Description: "Filter X", Quantity: qty(10), Price: qty(5)}}
	}
	pr := f.approvedPR(t, items[0].Description)
	po, err := f.svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		PurchaseRequestID: pr.ID,
		VendorID:          1,
		Items:             items,
	})
	require.NoError(t, err)
	return po
}

var errBroken = errors.New("broken")
