package inventory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	RefKeyApplied(ctx context.Context, refKey string) (bool, error)
	IncrementByDescription(ctx context.Context, description string, qty float64) (Item, error)
	DecrementIfAvailable(ctx context.Context, itemID int64, qty float64) (Item, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	InsertAlert(ctx context.Context, alert LowStockAlert) (LowStockAlert, bool, error)
	ResolveAlerts(ctx context.Context, itemID int64, at time.Time) (int64, error)
	LockItem(ctx context.Context, id int64) (Item, error)
	UpdateItem(ctx context.Context, item Item) (Item, error)
}

type txRepo struct {
	db db.DBTX
}

// WithTx runs fn in a READ COMMITTED transaction. Concurrent movements on one
// item serialise on its row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const itemColumns = `id, description, type, quantity, opening_quantity, unit, reorder_point, status, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Description, &it.Type, &it.Quantity, &it.OpeningQuantity, &it.Unit, &it.ReorderPoint, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

// CreateItem inserts a manually registered item.
func (r *Repository) CreateItem(ctx context.Context, item Item) (Item, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO inventory_items (description, type, quantity, opening_quantity, unit, reorder_point, status)
		VALUES ($1, $2, $3, $3, $4, $5, $6)
		RETURNING `+itemColumns,
		item.Description, item.Type, item.Quantity, item.Unit, item.ReorderPoint, item.Status)
	created, err := scanItem(row)
	if db.IsUniqueViolation(err) {
		return Item{}, ErrDuplicateItem
	}
	return created, err
}

// GetItem loads an item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
}

// FindByDescription loads an item by its exact description.
func (r *Repository) FindByDescription(ctx context.Context, description string) (Item, error) {
	return scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE description = $1`, description))
}

// ListItems returns items ordered by description.
func (r *Repository) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	page := filter.Page.Normalize()
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + itemColumns + ` FROM inventory_items`)
	if filter.Status != "" {
		args = append(args, filter.Status)
		sb.WriteString(` WHERE status = $1`)
	}
	args = append(args, page.Limit, page.Offset)
	sb.WriteString(` ORDER BY description LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args)))
	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListTransactions returns the ledger of one item, oldest first.
func (r *Repository) ListTransactions(ctx context.Context, itemID int64, page shared.ListFilter) ([]Transaction, error) {
	page = page.Normalize()
	rows, err := r.db.Query(ctx, `
		SELECT id, item_id, direction, quantity, tx_date, actor, notes, COALESCE(ref_key, ''), created_at
		FROM inventory_transactions
		WHERE item_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, itemID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ItemID, &t.Direction, &t.Quantity, &t.Date, &t.User, &t.Notes, &t.RefKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListUnresolvedAlerts returns open alerts, newest first.
func (r *Repository) ListUnresolvedAlerts(ctx context.Context) ([]LowStockAlert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, item_id, name, quantity, min_stock, triggered_at, resolved, resolved_at
		FROM low_stock_alerts
		WHERE NOT resolved
		ORDER BY triggered_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LowStockAlert
	for rows.Next() {
		var a LowStockAlert
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Name, &a.Quantity, &a.MinStock, &a.TriggeredAt, &a.Resolved, &a.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepo) RefKeyApplied(ctx context.Context, refKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_transactions WHERE ref_key = $1)`, refKey).Scan(&exists)
	return exists, err
}

// IncrementByDescription creates the item with defaults or adds qty in one statement.
func (r *txRepo) IncrementByDescription(ctx context.Context, description string, qty float64) (Item, error) {
	return scanItem(r.db.QueryRow(ctx, `
		INSERT INTO inventory_items (description, type, quantity, opening_quantity, unit, status)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (description)
		DO UPDATE SET quantity = inventory_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING `+itemColumns,
		description, DefaultItemType, qty, DefaultItemUnit, DefaultItemStatus))
}

// DecrementIfAvailable subtracts qty only when enough stock remains.
func (r *txRepo) DecrementIfAvailable(ctx context.Context, itemID int64, qty float64) (Item, error) {
	item, err := scanItem(r.db.QueryRow(ctx, `
		UPDATE inventory_items
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING `+itemColumns, itemID, qty))
	if !errors.Is(err, ErrItemNotFound) {
		return item, err
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return Item{}, err
	}
	if exists {
		return Item{}, ErrNegativeStock
	}
	return Item{}, ErrItemNotFound
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	var refKey *string
	if t.RefKey != "" {
		refKey = &t.RefKey
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO inventory_transactions (item_id, direction, quantity, tx_date, actor, notes, ref_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		t.ItemID, t.Direction, t.Quantity, t.Date, t.User, t.Notes, refKey).Scan(&t.ID, &t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Transaction{}, ErrAlreadyApplied
	}
	return t, err
}

// InsertAlert opens an alert unless the item already has an unresolved one.
func (r *txRepo) InsertAlert(ctx context.Context, a LowStockAlert) (LowStockAlert, bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO low_stock_alerts (item_id, name, quantity, min_stock, triggered_at, resolved)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (item_id) WHERE NOT resolved DO NOTHING
		RETURNING id`,
		a.ItemID, a.Name, a.Quantity, a.MinStock, a.TriggeredAt).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return LowStockAlert{}, false, nil
	}
	if err != nil {
		return LowStockAlert{}, false, err
	}
	return a, true, nil
}

func (r *txRepo) ResolveAlerts(ctx context.Context, itemID int64, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE low_stock_alerts SET resolved = TRUE, resolved_at = $2
		WHERE item_id = $1 AND NOT resolved`, itemID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LockItem reads the item row and holds its lock until the transaction ends.
func (r *txRepo) LockItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id))
}

// UpdateItem writes the descriptive fields. Quantity is never touched here.
func (r *txRepo) UpdateItem(ctx context.Context, item Item) (Item, error) {
	return scanItem(r.db.QueryRow(ctx, `
		UPDATE inventory_items
		SET type = $2, unit = $3, reorder_point = $4, status = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, item.Type, item.Unit, item.ReorderPoint, item.Status))
}
