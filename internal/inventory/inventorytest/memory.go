// Package inventorytest provides an in-memory inventory repository for tests.
package inventorytest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/inventory"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// MemoryRepo implements inventory.RepositoryPort. WithTx snapshots state and
// restores it when the callback fails.
type MemoryRepo struct {
	mu    sync.Mutex
	state memoryState

	// FailOn names a transactional step ("increment", "transaction", "alert") that returns ErrInjected.
	FailOn string
	// FailFor makes IncrementByDescription fail for this description only.
	FailFor string
}

type memoryState struct {
	items  map[int64]inventory.Item
	txs    []inventory.Transaction
	alerts []inventory.LowStockAlert
	nextID int64
}

// NewMemoryRepo returns an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{state: memoryState{items: make(map[int64]inventory.Item)}}
}

func (s memoryState) clone() memoryState {
	items := make(map[int64]inventory.Item, len(s.items))
	for k, v := range s.items {
		items[k] = v
	}
	return memoryState{
		items:  items,
		txs:    append([]inventory.Transaction(nil), s.txs...),
		alerts: append([]inventory.LowStockAlert(nil), s.alerts...),
		nextID: s.nextID,
	}
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

type memoryTx struct {
	repo *MemoryRepo
}

// ErrInjected is returned by the operation named in FailOn.
var ErrInjected = errors.New("inventorytest: injected failure")

func (r *MemoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepo) CreateItem(_ context.Context, item inventory.Item) (inventory.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byDescription(item.Description); ok {
		return inventory.Item{}, inventory.ErrDuplicateItem
	}
	item.ID = r.state.id()
	item.OpeningQuantity = item.Quantity
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	r.state.items[item.ID] = item
	return item, nil
}

func (r *MemoryRepo) GetItem(_ context.Context, id int64) (inventory.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.state.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (r *MemoryRepo) FindByDescription(_ context.Context, description string) (inventory.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.byDescription(description)
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (r *MemoryRepo) ListItems(_ context.Context, filter inventory.ListItemsFilter) ([]inventory.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Item
	for _, item := range r.state.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Description < out[j].Description })
	return page(out, filter.Page), nil
}

func (r *MemoryRepo) ListTransactions(_ context.Context, itemID int64, p shared.ListFilter) ([]inventory.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Transaction
	for _, t := range r.state.txs {
		if t.ItemID == itemID {
			out = append(out, t)
		}
	}
	return page(out, p), nil
}

func (r *MemoryRepo) ListUnresolvedAlerts(_ context.Context) ([]inventory.LowStockAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.LowStockAlert
	for i := len(r.state.alerts) - 1; i >= 0; i-- {
		if !r.state.alerts[i].Resolved {
			out = append(out, r.state.alerts[i])
		}
	}
	return out, nil
}

// Alerts returns every alert ever written for itemID, oldest first.
func (r *MemoryRepo) Alerts(itemID int64) []inventory.LowStockAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.LowStockAlert
	for _, a := range r.state.alerts {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out
}

// Transactions returns every ledger entry for itemID.
func (r *MemoryRepo) Transactions(itemID int64) []inventory.Transaction {
	out, _ := r.ListTransactions(context.Background(), itemID, shared.ListFilter{Limit: 1 << 30})
	return out
}

func (r *MemoryRepo) byDescription(description string) (inventory.Item, bool) {
	for _, item := range r.state.items {
		if item.Description == description {
			return item, true
		}
	}
	return inventory.Item{}, false
}

func (tx *memoryTx) fail(op string) error {
	if tx.repo.FailOn == op {
		return ErrInjected
	}
	return nil
}

func (tx *memoryTx) RefKeyApplied(_ context.Context, refKey string) (bool, error) {
	for _, t := range tx.repo.state.txs {
		if t.RefKey == refKey {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) IncrementByDescription(_ context.Context, description string, qty float64) (inventory.Item, error) {
	if err := tx.fail("increment"); err != nil {
		return inventory.Item{}, err
	}
	if tx.repo.FailFor != "" && tx.repo.FailFor == description {
		return inventory.Item{}, ErrInjected
	}
	now := time.Now().UTC()
	item, ok := tx.repo.byDescription(description)
	if !ok {
		item = inventory.Item{
			ID:          tx.repo.state.id(),
			Description: description,
			Type:        inventory.DefaultItemType,
			Unit:        inventory.DefaultItemUnit,
			Status:      inventory.DefaultItemStatus,
			CreatedAt:   now,
		}
	}
	item.Quantity += qty
	item.UpdatedAt = now
	tx.repo.state.items[item.ID] = item
	return item, nil
}

func (tx *memoryTx) DecrementIfAvailable(_ context.Context, itemID int64, qty float64) (inventory.Item, error) {
	item, ok := tx.repo.state.items[itemID]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	if item.Quantity < qty {
		return inventory.Item{}, inventory.ErrNegativeStock
	}
	item.Quantity -= qty
	item.UpdatedAt = time.Now().UTC()
	tx.repo.state.items[itemID] = item
	return item, nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, t inventory.Transaction) (inventory.Transaction, error) {
	if err := tx.fail("transaction"); err != nil {
		return inventory.Transaction{}, err
	}
	if t.RefKey != "" {
		for _, existing := range tx.repo.state.txs {
			if existing.RefKey == t.RefKey {
				return inventory.Transaction{}, inventory.ErrAlreadyApplied
			}
		}
	}
	t.ID = tx.repo.state.id()
	t.CreatedAt = time.Now().UTC()
	tx.repo.state.txs = append(tx.repo.state.txs, t)
	return t, nil
}

func (tx *memoryTx) InsertAlert(_ context.Context, a inventory.LowStockAlert) (inventory.LowStockAlert, bool, error) {
	if err := tx.fail("alert"); err != nil {
		return inventory.LowStockAlert{}, false, err
	}
	for _, existing := range tx.repo.state.alerts {
		if existing.ItemID == a.ItemID && !existing.Resolved {
			return inventory.LowStockAlert{}, false, nil
		}
	}
	a.ID = tx.repo.state.id()
	tx.repo.state.alerts = append(tx.repo.state.alerts, a)
	return a, true, nil
}

func (tx *memoryTx) ResolveAlerts(_ context.Context, itemID int64, at time.Time) (int64, error) {
	var n int64
	for i := range tx.repo.state.alerts {
		a := &tx.repo.state.alerts[i]
		if a.ItemID == itemID && !a.Resolved {
			a.Resolved = true
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) LockItem(_ context.Context, id int64) (inventory.Item, error) {
	item, ok := tx.repo.state.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) UpdateItem(_ context.Context, item inventory.Item) (inventory.Item, error) {
	current, ok := tx.repo.state.items[item.ID]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	current.Type = item.Type
	current.Unit = item.Unit
	current.ReorderPoint = item.ReorderPoint
	current.Status = item.Status
	current.UpdatedAt = time.Now().UTC()
	tx.repo.state.items[item.ID] = current
	return current, nil
}

func page[T any](items []T, f shared.ListFilter) []T {
	f = f.Normalize()
	if f.Offset >= len(items) {
		return nil
	}
	end := f.Offset + f.Limit
	if end > len(items) || f.Limit == 0 {
		end = len(items)
	}
	return items[f.Offset:end]
}
