package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// IdempotencyHeader carries the client key for goods receipt creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for procurement.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-requests", func(r chi.Router) {
		r.Get("/", h.listPRs)
		r.Post("/", h.createPR)
		r.Get("/{id}", h.getPR)
		r.Put("/{id}", h.updatePR)
		r.Delete("/{id}", h.deletePR)
	})
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.listQuotations)
		r.Post("/", h.createQuotation)
		r.Get("/{id}", h.getQuotation)
		r.Put("/{id}", h.updateQuotation)
		r.Delete("/{id}", h.deleteQuotation)
		r.Post("/{id}/responses", h.submitResponse)
	})
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listPOs)
		r.Post("/", h.createPO)
		r.Get("/{id}", h.getPO)
		r.Put("/{id}", h.updatePO)
		r.Delete("/{id}", h.deletePO)
	})
	r.Route("/goods-receipts", func(r chi.Router) {
		r.Get("/", h.listGRNs)
		r.Post("/", h.createGRN)
		r.Get("/{id}", h.getGRN)
		r.Put("/{id}", h.updateGRN)
		r.Delete("/{id}", h.deleteGRN)
	})
	r.Route("/procurement-invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Put("/{id}", h.updateInvoice)
		r.Delete("/{id}", h.deleteInvoice)
		r.Get("/{id}/match", h.matchInvoice)
	})
}

func (h *Handler) listPRs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ListPurchaseRequests(r.Context(), PRFilter{
		Status:     q.Get("status"),
		Department: q.Get("department"),
		Page:       shared.ListFilterFromQuery(q),
	})
	if err != nil {
		h.fail(w, "list purchase requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createPR(w http.ResponseWriter, r *http.Request) {
	var input CreatePRInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.CreatePurchaseRequest(r.Context(), input)
	if err != nil {
		h.fail(w, "create purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) getPR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	pr, err := h.service.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) updatePR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdatePRStatusInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.UpdatePurchaseRequestStatus(r.Context(), id, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) deletePR(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "delete purchase request", h.service.DeletePurchaseRequest)
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ListQuotations(r.Context(), QuotationFilter{
		PurchaseRequestID: queryID(q.Get("purchaseRequestId")),
		Page:              shared.ListFilterFromQuery(q),
	})
	if err != nil {
		h.fail(w, "list quotations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var input CreateQuotationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.CreateQuotation(r.Context(), input)
	if err != nil {
		h.fail(w, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	q, err := h.service.GetQuotation(r.Context(), id)
	if err != nil {
		h.fail(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) updateQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdateQuotationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.UpdateQuotation(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input QuoteResponseInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.SubmitResponse(r.Context(), id, input)
	if err != nil {
		h.fail(w, "submit quotation response", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "delete quotation", h.service.DeleteQuotation)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ListPurchaseOrders(r.Context(), POFilter{
		Status:            q.Get("status"),
		VendorID:          queryID(q.Get("vendorId")),
		PurchaseRequestID: queryID(q.Get("purchaseRequestId")),
		Page:              shared.ListFilterFromQuery(q),
	})
	if err != nil {
		h.fail(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var input CreatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdatePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deletePO(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "delete purchase order", h.service.DeletePurchaseOrder)
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ListGoodsReceipts(r.Context(), GRNFilter{
		PurchaseOrderID: queryID(q.Get("purchaseOrderId")),
		Status:          q.Get("status"),
		Page:            shared.ListFilterFromQuery(q),
	})
	if err != nil {
		h.fail(w, "list goods receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var input CreateGRNInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	result, err := h.service.CreateGoodsReceipt(r.Context(), input)
	if err != nil {
		h.fail(w, "create goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	grn, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) updateGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdateGRNInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.UpdateGoodsReceipt(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) deleteGRN(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "delete goods receipt", h.service.DeleteGoodsReceipt)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.ListInvoices(r.Context(), InvoiceFilter{
		PurchaseOrderID: queryID(q.Get("purchaseOrderId")),
		Status:          q.Get("status"),
		Page:            shared.ListFilterFromQuery(q),
	})
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var input CreateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var input UpdateInvoiceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.UpdateInvoice(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, "delete invoice", h.service.DeleteInvoice)
}

func (h *Handler) matchInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	result, err := h.service.MatchInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "match invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64) error) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// queryID parses an optional id filter. Anything unparsable means no filter.
func queryID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
