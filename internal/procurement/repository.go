package procurement

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Repository persists procurement documents in PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const quotationPRConstraint = "quotations_purchase_request_id_key"

// clauses accumulates WHERE conditions with positional arguments.
type clauses struct {
	where []string
	args  []any
}

// add appends expr with its single "?" replaced by the next placeholder.
func (c *clauses) add(expr string, value any) {
	c.args = append(c.args, value)
	c.where = append(c.where, strings.Replace(expr, "?", "$"+strconv.Itoa(len(c.args)), 1))
}

func (c *clauses) query(base, order string, page shared.ListFilter) (string, []any) {
	page = page.Normalize()
	q := base
	if len(c.where) > 0 {
		q += " WHERE " + strings.Join(c.where, " AND ")
	}
	args := append(c.args, page.Limit, page.Offset)
	q += " ORDER BY " + order + " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	return q, args
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func deleteByID(ctx context.Context, conn db.DBTX, table string, id int64, sentinel error) error {
	tag, err := conn.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sentinel
	}
	return nil
}

// Purchase requests

const prColumns = `id, serial, item_description, quantity, priority, budget_code, department, requester, attachments, status, approval_history, created_at, updated_at`

func scanPR(row pgx.Row) (PurchaseRequest, error) {
	var pr PurchaseRequest
	err := row.Scan(&pr.ID, &pr.Serial, &pr.ItemDescription, &pr.Quantity, &pr.Priority, &pr.BudgetCode,
		&pr.Department, &pr.Requester, &pr.Attachments, &pr.Status, &pr.ApprovalHistory, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return PurchaseRequest{}, notFound(err, ErrPurchaseRequestNotFound)
	}
	pr.Attachments = nonNilStrings(pr.Attachments)
	if pr.ApprovalHistory == nil {
		pr.ApprovalHistory = []shared.ApprovalEntry{}
	}
	return pr, nil
}

// CreatePR inserts a purchase request.
func (r *Repository) CreatePR(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error) {
	created, err := scanPR(r.db.QueryRow(ctx, `
		INSERT INTO purchase_requests (serial, item_description, quantity, priority, budget_code, department, requester, attachments, status, approval_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+prColumns,
		pr.Serial, pr.ItemDescription, pr.Quantity, pr.Priority, pr.BudgetCode, pr.Department, pr.Requester,
		pr.Attachments, pr.Status, pr.ApprovalHistory))
	if db.IsUniqueViolation(err) {
		return PurchaseRequest{}, ErrDuplicateSerial
	}
	return created, err
}

// GetPR loads a purchase request.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return scanPR(r.db.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE id = $1`, id))
}

// ListPRs lists purchase requests, newest first.
func (r *Repository) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequest, error) {
	var c clauses
	if filter.Status != "" {
		c.add("status = ?", filter.Status)
	}
	if filter.Department != "" {
		c.add("department = ?", filter.Department)
	}
	q, args := c.query(`SELECT `+prColumns+` FROM purchase_requests`, "id DESC", filter.Page)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPR)
}

// TransitionPR moves the request from one status to another and appends entry to
// its history in one statement. It fails with ErrStaleStatus when the stored
// status is no longer from.
func (r *Repository) TransitionPR(ctx context.Context, id int64, from, to PRStatus, entry shared.ApprovalEntry) (PurchaseRequest, error) {
	updated, err := scanPR(r.db.QueryRow(ctx, `
		UPDATE purchase_requests
		SET status = $3, approval_history = approval_history || $4::jsonb, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+prColumns,
		id, from, to, []shared.ApprovalEntry{entry}))
	if errors.Is(err, ErrPurchaseRequestNotFound) {
		if _, getErr := r.GetPR(ctx, id); getErr != nil {
			return PurchaseRequest{}, getErr
		}
		return PurchaseRequest{}, ErrStaleStatus
	}
	return updated, err
}

// DeletePR removes a purchase request.
func (r *Repository) DeletePR(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "purchase_requests", id, ErrPurchaseRequestNotFound)
}

// Quotations

const quotationColumns = `id, purchase_request_id, vendors, responses, selected_vendor, justification, approval_status, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.PurchaseRequestID, &q.Vendors, &q.Responses, &q.SelectedVendor,
		&q.Justification, &q.ApprovalStatus, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Quotation{}, notFound(err, ErrQuotationNotFound)
	}
	if q.Vendors == nil {
		q.Vendors = []int64{}
	}
	if q.Responses == nil {
		q.Responses = []QuoteResponse{}
	}
	return q, nil
}

// CreateQuotation inserts a quotation. A second quotation for the same request
// fails with ErrQuotationExists.
func (r *Repository) CreateQuotation(ctx context.Context, q Quotation) (Quotation, error) {
	created, err := scanQuotation(r.db.QueryRow(ctx, `
		INSERT INTO quotations (purchase_request_id, vendors, responses, selected_vendor, justification, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+quotationColumns,
		q.PurchaseRequestID, q.Vendors, q.Responses, q.SelectedVendor, q.Justification, q.ApprovalStatus))
	if db.IsUniqueViolation(err) && db.ConstraintName(err) == quotationPRConstraint {
		return Quotation{}, ErrQuotationExists
	}
	return created, err
}

// GetQuotation loads a quotation.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	return scanQuotation(r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id))
}

// ListQuotations lists quotations.
func (r *Repository) ListQuotations(ctx context.Context, filter QuotationFilter) ([]Quotation, error) {
	var c clauses
	if filter.PurchaseRequestID > 0 {
		c.add("purchase_request_id = ?", filter.PurchaseRequestID)
	}
	q, args := c.query(`SELECT `+quotationColumns+` FROM quotations`, "id DESC", filter.Page)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanQuotation)
}

// UpdateQuotation writes responses, selection, justification and approval status.
func (r *Repository) UpdateQuotation(ctx context.Context, q Quotation) (Quotation, error) {
	return scanQuotation(r.db.QueryRow(ctx, `
		UPDATE quotations
		SET responses = $2, selected_vendor = $3, justification = $4, approval_status = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+quotationColumns,
		q.ID, q.Responses, q.SelectedVendor, q.Justification, q.ApprovalStatus))
}

// UpsertQuoteResponse replaces the response of resp.VendorID, or appends it, in one statement.
func (r *Repository) UpsertQuoteResponse(ctx context.Context, id int64, resp QuoteResponse) (Quotation, error) {
	return scanQuotation(r.db.QueryRow(ctx, `
		UPDATE quotations
		SET responses = COALESCE((
				SELECT jsonb_agg(elem)
				FROM jsonb_array_elements(responses) AS elem
				WHERE (elem->>'vendorId')::bigint <> $2
			), '[]'::jsonb) || jsonb_build_array($3::jsonb),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+quotationColumns,
		id, resp.VendorID, resp))
}

// DeleteQuotation removes a quotation.
func (r *Repository) DeleteQuotation(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "quotations", id, ErrQuotationNotFound)
}

// Purchase orders

const poColumns = `id, po_number, purchase_request_id, vendor_id, quotation_id, department, items, total_amount, terms, status, documents, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.PONumber, &po.PurchaseRequestID, &po.VendorID, &po.QuotationID, &po.Department,
		&po.Items, &po.TotalAmount, &po.Terms, &po.Status, &po.Documents, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, notFound(err, ErrPurchaseOrderNotFound)
	}
	if po.Items == nil {
		po.Items = []POItem{}
	}
	po.Documents = nonNilStrings(po.Documents)
	return po, nil
}

// CreatePO inserts a purchase order.
func (r *Repository) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanPO(r.db.QueryRow(ctx, `
		INSERT INTO purchase_orders (po_number, purchase_request_id, vendor_id, quotation_id, department, items, total_amount, terms, status, documents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+poColumns,
		po.PONumber, po.PurchaseRequestID, po.VendorID, po.QuotationID, po.Department, po.Items,
		po.TotalAmount, po.Terms, po.Status, po.Documents))
	if db.IsUniqueViolation(err) {
		return PurchaseOrder{}, ErrDuplicateSerial
	}
	return created, err
}

// GetPO loads a purchase order.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.db.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
}

// ListPOs lists purchase orders.
func (r *Repository) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	var c clauses
	if filter.Status != "" {
		c.add("status = ?", filter.Status)
	}
	if filter.VendorID > 0 {
		c.add("vendor_id = ?", filter.VendorID)
	}
	if filter.PurchaseRequestID > 0 {
		c.add("purchase_request_id = ?", filter.PurchaseRequestID)
	}
	q, args := c.query(`SELECT `+poColumns+` FROM purchase_orders`, "id DESC", filter.Page)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPO)
}

// UpdatePO writes the order when its stored status still equals expected.
func (r *Repository) UpdatePO(ctx context.Context, po PurchaseOrder, expected POStatus) (PurchaseOrder, error) {
	updated, err := scanPO(r.db.QueryRow(ctx, `
		UPDATE purchase_orders
		SET items = $3, total_amount = $4, terms = $5, status = $6, documents = $7, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+poColumns,
		po.ID, expected, po.Items, po.TotalAmount, po.Terms, po.Status, po.Documents))
	if errors.Is(err, ErrPurchaseOrderNotFound) {
		if _, getErr := r.GetPO(ctx, po.ID); getErr != nil {
			return PurchaseOrder{}, getErr
		}
		return PurchaseOrder{}, ErrStaleStatus
	}
	return updated, err
}

// DeletePO removes a purchase order.
func (r *Repository) DeletePO(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "purchase_orders", id, ErrPurchaseOrderNotFound)
}

// Goods receipts

const grnColumns = `id, serial, purchase_order_id, received_by, received_date, items, documents, status, created_at, updated_at`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	err := row.Scan(&g.ID, &g.Serial, &g.PurchaseOrderID, &g.ReceivedBy, &g.ReceivedDate, &g.Items,
		&g.Documents, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return GoodsReceipt{}, notFound(err, ErrGoodsReceiptNotFound)
	}
	if g.Items == nil {
		g.Items = []GRNItem{}
	}
	g.Documents = nonNilStrings(g.Documents)
	return g, nil
}

// CreateGRN inserts a goods receipt.
func (r *Repository) CreateGRN(ctx context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	created, err := scanGRN(r.db.QueryRow(ctx, `
		INSERT INTO goods_receipts (serial, purchase_order_id, received_by, received_date, items, documents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+grnColumns,
		g.Serial, g.PurchaseOrderID, g.ReceivedBy, g.ReceivedDate, g.Items, g.Documents, g.Status))
	if db.IsUniqueViolation(err) {
		return GoodsReceipt{}, ErrDuplicateSerial
	}
	return created, err
}

// GetGRN loads a goods receipt.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return scanGRN(r.db.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE id = $1`, id))
}

// ListGRNs lists goods receipts.
func (r *Repository) ListGRNs(ctx context.Context, filter GRNFilter) ([]GoodsReceipt, error) {
	var c clauses
	if filter.PurchaseOrderID > 0 {
		c.add("purchase_order_id = ?", filter.PurchaseOrderID)
	}
	if filter.Status != "" {
		c.add("status = ?", filter.Status)
	}
	q, args := c.query(`SELECT `+grnColumns+` FROM goods_receipts`, "id DESC", filter.Page)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanGRN)
}

// UpdateGRN writes status and documents. Other columns are immutable.
func (r *Repository) UpdateGRN(ctx context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	return scanGRN(r.db.QueryRow(ctx, `
		UPDATE goods_receipts SET status = $2, documents = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+grnColumns,
		g.ID, g.Status, g.Documents))
}

// DeleteGRN removes a goods receipt.
func (r *Repository) DeleteGRN(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "goods_receipts", id, ErrGoodsReceiptNotFound)
}

// Invoices

const invoiceColumns = `id, serial, purchase_order_id, goods_receipt_id, file, amount, status, payment_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Serial, &inv.PurchaseOrderID, &inv.GoodsReceiptID, &inv.File, &inv.Amount,
		&inv.Status, &inv.PaymentDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, notFound(err, ErrInvoiceNotFound)
	}
	return inv, nil
}

// CreateInvoice inserts an invoice.
func (r *Repository) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	created, err := scanInvoice(r.db.QueryRow(ctx, `
		INSERT INTO procurement_invoices (serial, purchase_order_id, goods_receipt_id, file, amount, status, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+invoiceColumns,
		inv.Serial, inv.PurchaseOrderID, inv.GoodsReceiptID, inv.File, inv.Amount, inv.Status, inv.PaymentDate))
	if db.IsUniqueViolation(err) {
		return Invoice{}, ErrDuplicateSerial
	}
	return created, err
}

// GetInvoice loads an invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM procurement_invoices WHERE id = $1`, id))
}

// ListInvoices lists invoices.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	var c clauses
	if filter.PurchaseOrderID > 0 {
		c.add("purchase_order_id = ?", filter.PurchaseOrderID)
	}
	if filter.Status != "" {
		c.add("status = ?", filter.Status)
	}
	q, args := c.query(`SELECT `+invoiceColumns+` FROM procurement_invoices`, "id DESC", filter.Page)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvoice)
}

// UpdateInvoice writes every mutable invoice column.
func (r *Repository) UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	return scanInvoice(r.db.QueryRow(ctx, `
		UPDATE procurement_invoices
		SET purchase_order_id = $2, goods_receipt_id = $3, file = $4, amount = $5, status = $6, payment_date = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+invoiceColumns,
		inv.ID, inv.PurchaseOrderID, inv.GoodsReceiptID, inv.File, inv.Amount, inv.Status, inv.PaymentDate))
}

// DeleteInvoice removes an invoice.
func (r *Repository) DeleteInvoice(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "procurement_invoices", id, ErrInvoiceNotFound)
}
