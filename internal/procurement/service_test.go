package procurement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

func todayPrefix(code, dept string) string {
	return serial.Prefix(code, dept, time.Now().UTC())
}

func TestCreatePurchaseRequestAllocatesSerial(t *testing.T) {
	f := newFixture(t)

	first := f.pendingPR(t, "Filter X")
	second := f.pendingPR(t, "Filter Y")

	require.Equal(t, todayPrefix("PR", "HSE")+"001", first.Serial)
	require.Equal(t, todayPrefix("PR", "HSE")+"002", second.Serial)
	require.Equal(t, "requester", first.Requester)
	require.Equal(t, PRStatusPending, first.Status)
	require.Empty(t, first.ApprovalHistory)
	require.Equal(t, []string{}, first.Attachments)
}

func TestCreatePurchaseRequestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePurchaseRequest(context.Background(), CreatePRInput{
		ItemDescription: "Filter X",
		Priority:        "high",
		BudgetCode:      "OPEX-24",
		Department:      "HSE",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "quantity")
	require.Contains(t, verr.Fields, "requester")

	_, err = f.svc.CreatePurchaseRequest(actorCtx("requester"), CreatePRInput{
		ItemDescription: "Filter X",
		Quantity:        qty(0),
		Priority:        "high",
		BudgetCode:      "OPEX-24",
		Department:      "HSE",
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	prs, err := f.svc.ListPurchaseRequests(context.Background(), PRFilter{})
	require.NoError(t, err)
	require.Empty(t, prs)
}

func TestApprovalRefusedWhileStockSufficient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inv.CreateItem(ctx, inventory.CreateItemInput{Description: "Filter X", Quantity: 5, ReorderPoint: qty(10)})
	require.NoError(t, err)
	_, err = f.inv.ReceiveInbound(ctx, inventory.InboundInput{Description: "Filter X", Quantity: 8})
	require.NoError(t, err)

	pr := f.pendingPR(t, "Filter X")
	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "approved"}, "manager")
	require.ErrorIs(t, err, ErrStockSufficient)
	require.ErrorIs(t, err, shared.ErrConflict)

	stored, err := f.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusPending, stored.Status)
	require.Empty(t, stored.ApprovalHistory)

	rejected, err := f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "rejected", Comment: "stock is fine"}, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusRejected, rejected.Status)
	require.Len(t, rejected.ApprovalHistory, 1)
	require.Equal(t, "stock is fine", rejected.ApprovalHistory[0].Comment)
}

func TestApprovalAllowedWhenStockShort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inv.CreateItem(ctx, inventory.CreateItemInput{Description: "Filter X", Quantity: 5, ReorderPoint: qty(10)})
	require.NoError(t, err)
	_, err = f.inv.CreateItem(ctx, inventory.CreateItemInput{Description: "Gloves", Quantity: 500})
	require.NoError(t, err)

	short := f.pendingPR(t, "Filter X")
	approved, err := f.svc.UpdatePurchaseRequestStatus(ctx, short.ID, UpdatePRStatusInput{Status: "approved", Comment: "ok"}, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusApproved, approved.Status)
	require.Len(t, approved.ApprovalHistory, 1)
	entry := approved.ApprovalHistory[0]
	require.Equal(t, "manager", entry.Approver)
	require.Equal(t, "approved", entry.Action)
	require.False(t, entry.Date.IsZero())

	noReorderPoint := f.pendingPR(t, "Gloves")
	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, noReorderPoint.ID, UpdatePRStatusInput{Status: "approved"}, "manager")
	require.NoError(t, err, "items without a reorder point never block approval")
}

func TestPurchaseRequestTransitionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.pendingPR(t, "Filter X")

	_, err := f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "approved"}, "")
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "pending"}, "manager")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "sent_to_procurement"}, "manager")
	require.NoError(t, err)

	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, pr.ID, UpdatePRStatusInput{Status: "rejected"}, "manager")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdatePurchaseRequestStatus(ctx, 999, UpdatePRStatusInput{Status: "rejected"}, "manager")
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, f.svc.DeletePurchaseRequest(ctx, pr.ID))
	require.ErrorIs(t, f.svc.DeletePurchaseRequest(ctx, pr.ID), shared.ErrNotFound)
}

func TestQuotationHardening(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.pendingPR(t, "Filter X")

	_, err := f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID, Vendors: []int64{1, 99}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	q, err := f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID, Vendors: []int64{1, 2, 2}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, q.Vendors)
	require.Equal(t, ApprovalPending, q.ApprovalStatus)

	_, err = f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID, Vendors: []int64{1}})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 3, Price: qty(100)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 1, Price: qty(120)})
	require.NoError(t, err)
	q, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 1, Price: qty(110), Notes: "revised"})
	require.NoError(t, err)
	require.Len(t, q.Responses, 1)
	require.Equal(t, 110.0, q.Responses[0].Price)
	require.Equal(t, ResponseStatusSubmitted, q.Responses[0].Status)

	_, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{SelectedVendor: func() *int64 { v := int64(2); return &v }()})
	require.ErrorIs(t, err, shared.ErrValidation, "selected vendor must have responded")

	_, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{ApprovalStatus: strPtr("approved")})
	require.ErrorIs(t, err, shared.ErrValidation, "approval needs a selection")

	_, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{Responses: []QuoteResponseInput{{VendorID: 5, Price: qty(1)}}})
	require.ErrorIs(t, err, shared.ErrValidation, "responses only from invited vendors")

	_, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{ApprovalStatus: strPtr("maybe")})
	require.ErrorIs(t, err, shared.ErrValidation)

	selected := int64(1)
	q, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{
		SelectedVendor: &selected,
		Justification:  strPtr("lowest price"),
		ApprovalStatus: strPtr("approved"),
	})
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, q.ApprovalStatus)
	require.Equal(t, int64(1), *q.SelectedVendor)

	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 2, Price: qty(90)})
	require.ErrorIs(t, err, ErrQuotationClosed)
}

func TestDecidedQuotationIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.pendingPR(t, "Filter X")

	q, err := f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID, Vendors: []int64{1, 2}})
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 1, Price: qty(120)})
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 2, Price: qty(95)})
	require.NoError(t, err)
	selected := int64(1)
	q, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{SelectedVendor: &selected, ApprovalStatus: strPtr("approved")})
	require.NoError(t, err)

	other := int64(2)
	cases := []struct {
		name  string
		input UpdateQuotationInput
	}{
		{"replace responses", UpdateQuotationInput{Responses: []QuoteResponseInput{{VendorID: 2, Price: qty(10)}}}},
		{"clear responses", UpdateQuotationInput{Responses: []QuoteResponseInput{}}},
		{"switch selection", UpdateQuotationInput{SelectedVendor: &other}},
		{"clear selection", UpdateQuotationInput{ClearSelectedVendor: true}},
		{"reopen", UpdateQuotationInput{ApprovalStatus: strPtr("pending")}},
		{"reject", UpdateQuotationInput{ApprovalStatus: strPtr("rejected")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateQuotation(ctx, q.ID, tc.input)
			require.ErrorIs(t, err, ErrQuotationClosed)
			require.ErrorIs(t, err, shared.ErrConflict)
		})
	}

	current, err := f.svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, current.ApprovalStatus)
	require.Equal(t, int64(1), *current.SelectedVendor)
	require.Len(t, current.Responses, 2)

	note := "approved by board"
	current, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{
		Justification:  &note,
		SelectedVendor: &selected,
		ApprovalStatus: strPtr("approved"),
	})
	require.NoError(t, err, "restating the decision with a new justification is allowed")
	require.Equal(t, "approved by board", current.Justification)
}

func TestCreatePurchaseOrderChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []POItemInput{
		{Description: "Filter X", Quantity: qty(2), Price: qty(10)},
		{Description: "Gasket", Quantity: qty(3), Price: qty(5)},
	}

	pending := f.pendingPR(t, "Filter X")
	_, err := f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pending.ID, VendorID: 1, Items: items})
	require.ErrorIs(t, err, ErrPurchaseRequestNotApproved)

	pr := f.approvedPR(t, "Filter X")
	for _, vendorID := range []int64{3, 4} {
		_, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: vendorID, Items: items})
		require.ErrorIs(t, err, ErrVendorNotEligible, "vendor %d", vendorID)
	}
	_, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 99, Items: items})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	q, err := f.svc.CreateQuotation(ctx, CreateQuotationInput{PurchaseRequestID: pr.ID, Vendors: []int64{1, 2}})
	require.NoError(t, err)
	_, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 1, QuotationID: &q.ID, Items: items})
	require.ErrorIs(t, err, ErrQuotationNotApproved)

	_, err = f.svc.SubmitResponse(ctx, q.ID, QuoteResponseInput{VendorID: 2, Price: qty(35)})
	require.NoError(t, err)
	selected := int64(2)
	_, err = f.svc.UpdateQuotation(ctx, q.ID, UpdateQuotationInput{SelectedVendor: &selected, ApprovalStatus: strPtr("approved")})
	require.NoError(t, err)
	_, err = f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 1, QuotationID: &q.ID, Items: items})
	require.ErrorIs(t, err, shared.ErrValidation, "vendor must match the quotation selection")

	po, err := f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 2, QuotationID: &q.ID, Items: items, Terms: " NET 30 "})
	require.NoError(t, err)
	require.Equal(t, todayPrefix("PO", "HSE")+"001", po.PONumber)
	require.Equal(t, "HSE", po.Department)
	require.Equal(t, POStatusOpen, po.Status)
	require.InDelta(t, 35.0, po.TotalAmount, 0.0001)
	require.Equal(t, "NET 30", po.Terms)

	explicit, err := f.svc.CreatePurchaseOrder(ctx, CreatePOInput{PurchaseRequestID: pr.ID, VendorID: 1, Items: items, TotalAmount: qty(30)})
	require.NoError(t, err)
	require.Equal(t, 30.0, explicit.TotalAmount)
	require.Equal(t, todayPrefix("PO", "HSE")+"002", explicit.PONumber)
}

func TestPurchaseOrderStatusMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.openPO(t)

	_, err := f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("shipped")})
	require.ErrorIs(t, err, shared.ErrValidation)
	stored, err := f.svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusOpen, stored.Status)

	po, err = f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("ordered"), Terms: strPtr("NET 45")})
	require.NoError(t, err)
	require.Equal(t, POStatusOrdered, po.Status)
	require.Equal(t, "NET 45", po.Terms)

	_, err = f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("open")})
	require.ErrorIs(t, err, ErrInvalidTransition)

	po, err = f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("delivered")})
	require.NoError(t, err)
	_, err = f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("cancelled")})
	require.ErrorIs(t, err, shared.ErrConflict)

	other := f.openPO(t)
	other, err = f.svc.UpdatePurchaseOrder(ctx, other.ID, UpdatePOInput{Items: []POItemInput{{Description: "Filter X", Quantity: qty(4), Price: qty(2.5)}}})
	require.NoError(t, err)
	require.Equal(t, 10.0, other.TotalAmount)
	_, err = f.svc.UpdatePurchaseOrder(ctx, other.ID, UpdatePOInput{Items: []POItemInput{}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPOStatusCanMoveTo(t *testing.T) {
	cases := []struct {
		from, to POStatus
		ok       bool
	}{
		{POStatusOpen, POStatusOpen, true},
		{POStatusOpen, POStatusOrdered, true},
		{POStatusOpen, POStatusDelivered, true},
		{POStatusOpen, POStatusCancelled, true},
		{POStatusOrdered, POStatusCancelled, true},
		{POStatusOrdered, POStatusOpen, false},
		{POStatusDelivered, POStatusOrdered, false},
		{POStatusDelivered, POStatusCancelled, false},
		{POStatusCancelled, POStatusOpen, false},
		{POStatusCancelled, POStatusOrdered, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanMoveTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestGoodsReceiptDrivesLedgerAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")

	item, err := f.inv.CreateItem(ctx, inventory.CreateItemInput{Description: "Filter X", Quantity: 5, ReorderPoint: qty(10)})
	require.NoError(t, err)
	po := f.openPO(t)

	first, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}},
	})
	require.NoError(t, err)
	require.True(t, first.Success)
	require.Equal(t, 1, first.InventorySynced)
	require.Empty(t, first.FailedItems)
	require.Equal(t, "warehouse", first.Receipt.ReceivedBy)
	require.Equal(t, GRNStatusReceived, first.Receipt.Status)
	require.True(t, strings.HasPrefix(first.Receipt.Serial, todayPrefix("GRN", "HSE")))

	stored, err := f.inv.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 8.0, stored.Quantity)
	txs := f.invRepo.Transactions(item.ID)
	require.Len(t, txs, 1)
	require.Equal(t, inventory.DirectionInbound, txs[0].Direction)
	require.Equal(t, 3.0, txs[0].Quantity)
	require.Equal(t, ReceiptLineRef(first.Receipt.ID, 0), txs[0].RefKey)
	require.Equal(t, "warehouse", txs[0].User)
	alerts := f.invRepo.Alerts(item.ID)
	require.Len(t, alerts, 1)
	require.False(t, alerts[0].Resolved)
	require.Equal(t, 8.0, alerts[0].Quantity)
	require.Equal(t, 10.0, alerts[0].MinStock)

	second, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(5)}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, second.InventorySynced)

	stored, err = f.inv.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 13.0, stored.Quantity)
	alerts = f.invRepo.Alerts(item.ID)
	require.Len(t, alerts, 1, "no new alert once stock recovers")
	require.True(t, alerts[0].Resolved)

	var sum float64
	for _, tx := range f.invRepo.Transactions(item.ID) {
		sum += tx.Quantity
	}
	require.Equal(t, stored.Quantity-stored.OpeningQuantity, sum)
}

func TestGoodsReceiptRejectsMalformedItemsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	po := f.openPO(t)

	_, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items: []GRNItemInput{
			{Description: "Filter X", Quantity: qty(3)},
			{Description: "Gasket"},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[1].quantity")

	_, err = f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: po.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "  ", Quantity: qty(1)}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	grns, err := f.svc.ListGoodsReceipts(ctx, GRNFilter{})
	require.NoError(t, err)
	require.Empty(t, grns)
	items, err := f.inv.ListItems(ctx, inventory.ListItemsFilter{})
	require.NoError(t, err)
	require.Empty(t, items)

	result, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}},
	})
	require.NoError(t, err)
	require.Equal(t, todayPrefix("GRN", "HSE")+"001", result.Receipt.Serial, "rejected requests do not consume serials")
}

func TestGoodsReceiptRequiresExistingOpenOrder(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	items := []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}}

	_, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: 404, Items: items})
	require.ErrorIs(t, err, shared.ErrNotFound)

	po := f.openPO(t)
	_, err = f.svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: strPtr("cancelled")})
	require.NoError(t, err)
	_, err = f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: po.ID, Items: items})
	require.ErrorIs(t, err, ErrPurchaseOrderCancelled)
}

func TestGoodsReceiptSurvivesInventoryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	po := f.openPO(t)
	f.invRepo.FailFor = "Bolt M8"

	result, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items: []GRNItemInput{
			{Description: "Filter X", Quantity: qty(3)},
			{Description: "Bolt M8", Quantity: qty(10)},
			{Description: "Nut M8", Quantity: qty(4)},
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.InventorySynced)
	require.Len(t, result.FailedItems, 1)
	failed := result.FailedItems[0]
	require.Equal(t, 1, failed.Line)
	require.Equal(t, "Bolt M8", failed.Description)
	require.True(t, failed.Queued)
	require.NotEmpty(t, failed.Error)

	stored, err := f.svc.GetGoodsReceipt(ctx, result.Receipt.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 3)

	nut, err := f.inv.FindByDescription(ctx, "Nut M8")
	require.NoError(t, err, "lines after a failure are still posted")
	require.Equal(t, 4.0, nut.Quantity)

	require.Equal(t, 1, f.metrics.failed)
	require.Equal(t, 1, f.metrics.queued)
	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0]
	require.Equal(t, ReceiptLineRef(result.Receipt.ID, 1), task.RefKey)

	// Worker replay once the ledger recovers.
	f.invRepo.FailFor = ""
	_, err = f.inv.ReceiveInbound(ctx, task)
	require.NoError(t, err)
	_, err = f.inv.ReceiveInbound(ctx, task)
	require.ErrorIs(t, err, inventory.ErrAlreadyApplied)
	bolt, err := f.inv.FindByDescription(ctx, "Bolt M8")
	require.NoError(t, err)
	require.Equal(t, 10.0, bolt.Quantity)
	require.Equal(t, 0.0, bolt.OpeningQuantity)
}

func TestGoodsReceiptQueueFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	po := f.openPO(t)
	f.invRepo.FailFor = "Bolt M8"
	f.queue.err = errBroken

	result, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Bolt M8", Quantity: qty(10)}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.FailedItems, 1)
	require.False(t, result.FailedItems[0].Queued)
	require.Equal(t, 1, f.metrics.failed)
	require.Equal(t, 0, f.metrics.queued)
}

func TestGoodsReceiptSyncOutlivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.svc.inventory = cancelAwareInventory{InventoryPort: f.inv}
	po := f.openPO(t)

	ctx, cancel := context.WithCancel(actorCtx("warehouse"))
	cancel()
	result, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.InventorySynced)
	require.Empty(t, result.FailedItems)
}

func TestGoodsReceiptIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	po := f.openPO(t)
	input := CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}},
		IdempotencyKey:  "dock-7-0001",
	}

	_, err := f.svc.CreateGoodsReceipt(ctx, input)
	require.NoError(t, err)
	_, err = f.svc.CreateGoodsReceipt(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotErrorIs(t, err, shared.ErrDuplicate)

	grns, err := f.svc.ListGoodsReceipts(ctx, GRNFilter{PurchaseOrderID: po.ID})
	require.NoError(t, err)
	require.Len(t, grns, 1)
	item, err := f.inv.FindByDescription(ctx, "Filter X")
	require.NoError(t, err)
	require.Equal(t, 3.0, item.Quantity)

	f.repo.failCreateGRN = errBroken
	input.IdempotencyKey = "dock-7-0002"
	_, err = f.svc.CreateGoodsReceipt(ctx, input)
	require.ErrorIs(t, err, errBroken)
	require.NotContains(t, f.idem.keys, "dock-7-0002", "failed creation releases the key")
}

func TestUpdateGoodsReceiptKeepsCoreFacts(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("warehouse")
	po := f.openPO(t)
	result, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		PurchaseOrderID: po.ID,
		Items:           []GRNItemInput{{Description: "Filter X", Quantity: qty(3)}},
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateGoodsReceipt(ctx, result.Receipt.ID, UpdateGRNInput{Status: strPtr("lost")})
	require.ErrorIs(t, err, shared.ErrValidation)

	updated, err := f.svc.UpdateGoodsReceipt(ctx, result.Receipt.ID, UpdateGRNInput{Status: strPtr("disputed"), Documents: []string{"photo.jpg"}})
	require.NoError(t, err)
	require.Equal(t, GRNStatusDisputed, updated.Status)
	require.Equal(t, []string{"photo.jpg"}, updated.Documents)
	require.Equal(t, result.Receipt.Items, updated.Items)

	require.NoError(t, f.svc.DeleteGoodsReceipt(ctx, result.Receipt.ID))
	item, err := f.inv.FindByDescription(ctx, "Filter X")
	require.NoError(t, err)
	require.Equal(t, 3.0, item.Quantity, "ledger is not reversed")
}

func TestInvoiceReferencesAndMatch(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx("finance")
	po := f.openPO(t, POItemInput{Description: "Filter X", Quantity: qty(10), Price: qty(5)})
	other := f.openPO(t, POItemInput{Description: "Gasket", Quantity: qty(1), Price: qty(1)})

	grn1, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: po.ID, Items: []GRNItemInput{{Description: "Filter X", Quantity: qty(6)}}})
	require.NoError(t, err)
	_, err = f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: po.ID, Items: []GRNItemInput{{Description: "Filter X", Quantity: qty(4)}}})
	require.NoError(t, err)
	foreign, err := f.svc.CreateGoodsReceipt(ctx, CreateGRNInput{PurchaseOrderID: other.ID, Items: []GRNItemInput{{Description: "Gasket", Quantity: qty(1)}}})
	require.NoError(t, err)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{PurchaseOrderID: po.ID, GoodsReceiptID: &foreign.Receipt.ID, Amount: qty(50)})
	require.ErrorIs(t, err, shared.ErrValidation)
	missing := int64(404)
	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{PurchaseOrderID: po.ID, GoodsReceiptID: &missing, Amount: qty(50)})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{PurchaseOrderID: po.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	full, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{PurchaseOrderID: po.ID, Amount: qty(50), File: "inv-001.pdf"})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPending, full.Status)
	require.Equal(t, todayPrefix("PINV", "HSE")+"001", full.Serial)

	match, err := f.svc.MatchInvoice(ctx, full.ID)
	require.NoError(t, err)
	require.True(t, match.Matched)
	require.Len(t, match.ReceiptIDs, 2)
	require.Equal(t, []MatchLine{{Description: "Filter X", Ordered: 10, Received: 10, Variance: 0}}, match.Lines)

	partial, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{PurchaseOrderID: po.ID, GoodsReceiptID: &grn1.Receipt.ID, Amount: qty(30), Status: "awaiting_payment"})
	require.NoError(t, err)
	require.Equal(t, "awaiting_payment", partial.Status)
	match, err = f.svc.MatchInvoice(ctx, partial.ID)
	require.NoError(t, err)
	require.False(t, match.Matched)
	require.Equal(t, -20.0, match.AmountVariance)
	require.Equal(t, -4.0, match.Lines[0].Variance)

	paid := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.UpdateInvoice(ctx, partial.ID, UpdateInvoiceInput{ClearReceipt: true, Amount: qty(50), Status: strPtr("paid"), PaymentDate: &paid})
	require.NoError(t, err)
	require.Nil(t, updated.GoodsReceiptID)
	require.Equal(t, "paid", updated.Status)
	require.Equal(t, paid, *updated.PaymentDate)

	_, err = f.svc.UpdateInvoice(ctx, partial.ID, UpdateInvoiceInput{GoodsReceiptID: &foreign.Receipt.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, f.svc.DeleteInvoice(ctx, partial.ID))
	_, err = f.svc.GetInvoice(ctx, partial.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
