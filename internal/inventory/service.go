package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	FindByDescription(ctx context.Context, description string) (Item, error)
	ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error)
	ListTransactions(ctx context.Context, itemID int64, page shared.ListFilter) ([]Transaction, error)
	ListUnresolvedAlerts(ctx context.Context) ([]LowStockAlert, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache   AlertCachePort
	Metrics MetricsRecorder
}

// Service owns item quantities, the transaction log and the alert monitor.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   AlertCachePort
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateItem registers an item. Alerts are not evaluated until the first movement.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	input.Description = strings.TrimSpace(input.Description)
	if err := shared.ValidateStruct(input); err != nil {
		return Item{}, err
	}
	item := Item{
		Description:  input.Description,
		Type:         orDefault(input.Type, DefaultItemType),
		Quantity:     input.Quantity,
		Unit:         orDefault(input.Unit, DefaultItemUnit),
		ReorderPoint: input.ReorderPoint,
		Status:       orDefault(input.Status, DefaultItemStatus),
	}
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, "inventory:item_create", "inventory_item", created.ID, map[string]any{
		"description": created.Description,
		"quantity":    created.Quantity,
	})
	return created, nil
}

// GetItem returns an item by id.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// FindByDescription returns the item whose description matches exactly.
func (s *Service) FindByDescription(ctx context.Context, description string) (Item, error) {
	return s.repo.FindByDescription(ctx, strings.TrimSpace(description))
}

// ListItems lists items.
func (s *Service) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListItems(ctx, filter)
}

// UpdateItem patches type, unit, reorder point and status. The alert monitor
// runs against the new reorder point in the same transaction.
func (s *Service) UpdateItem(ctx context.Context, id int64, input UpdateItemInput) (Item, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Item{}, err
	}
	now := s.now()
	var (
		updated Item
		change  AlertChange
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		if input.Type != nil && strings.TrimSpace(*input.Type) != "" {
			item.Type = strings.TrimSpace(*input.Type)
		}
		if input.Unit != nil && strings.TrimSpace(*input.Unit) != "" {
			item.Unit = strings.TrimSpace(*input.Unit)
		}
		if input.ClearReorderPoint {
			item.ReorderPoint = nil
		} else if input.ReorderPoint != nil {
			item.ReorderPoint = input.ReorderPoint
		}
		if input.Status != nil {
			item.Status = *input.Status
		}
		updated, err = tx.UpdateItem(ctx, item)
		if err != nil {
			return err
		}
		change, err = evaluateAlerts(ctx, tx, updated, now)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.afterAlertChange(ctx, updated.ID, change)
	s.record(ctx, "inventory:item_update", "inventory_item", updated.ID, nil)
	return updated, nil
}

// ReceiveInbound adds stock to the item matching the description, creating it when
// absent, appends the inbound transaction and re-evaluates the alert monitor, all in
// one transaction. A RefKey that was already applied returns ErrAlreadyApplied.
func (s *Service) ReceiveInbound(ctx context.Context, input InboundInput) (MovementResult, error) {
	input.Description = strings.TrimSpace(input.Description)
	if err := shared.ValidateStruct(input); err != nil {
		return MovementResult{}, err
	}
	now := s.now()
	if input.Date.IsZero() {
		input.Date = now
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.RefKey != "" {
			applied, err := tx.RefKeyApplied(ctx, input.RefKey)
			if err != nil {
				return err
			}
			if applied {
				return ErrAlreadyApplied
			}
		}
		item, err := tx.IncrementByDescription(ctx, input.Description, input.Quantity)
		if err != nil {
			return err
		}
		txn, err := tx.InsertTransaction(ctx, Transaction{
			ItemID:    item.ID,
			Direction: DirectionInbound,
			Quantity:  input.Quantity,
			Date:      input.Date,
			User:      input.User,
			Notes:     input.Notes,
			RefKey:    input.RefKey,
		})
		if err != nil {
			return err
		}
		change, err := evaluateAlerts(ctx, tx, item, now)
		if err != nil {
			return err
		}
		result = MovementResult{Item: item, Transaction: txn, Alerts: change}
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterMovement(ctx, result)
	return result, nil
}

// IssueOutbound consumes stock. It refuses to take the quantity below zero.
func (s *Service) IssueOutbound(ctx context.Context, input OutboundInput) (MovementResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return MovementResult{}, err
	}
	now := s.now()
	if input.Date.IsZero() {
		input.Date = now
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.DecrementIfAvailable(ctx, input.ItemID, input.Quantity)
		if err != nil {
			return err
		}
		txn, err := tx.InsertTransaction(ctx, Transaction{
			ItemID:    item.ID,
			Direction: DirectionOutbound,
			Quantity:  input.Quantity,
			Date:      input.Date,
			User:      input.User,
			Notes:     input.Notes,
		})
		if err != nil {
			return err
		}
		change, err := evaluateAlerts(ctx, tx, item, now)
		if err != nil {
			return err
		}
		result = MovementResult{Item: item, Transaction: txn, Alerts: change}
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterMovement(ctx, result)
	return result, nil
}

// ListTransactions returns the ledger of an item.
func (s *Service) ListTransactions(ctx context.Context, itemID int64, page shared.ListFilter) ([]Transaction, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, itemID, page.Normalize())
}

// ListUnresolvedAlerts returns open low-stock alerts, through the cache when configured.
func (s *Service) ListUnresolvedAlerts(ctx context.Context) ([]LowStockAlert, error) {
	if s.cache == nil {
		return s.repo.ListUnresolvedAlerts(ctx)
	}
	alerts, err := s.cache.Load(ctx, s.repo.ListUnresolvedAlerts)
	if err != nil {
		s.logger.Warn("alert cache unavailable", slog.Any("error", err))
		return s.repo.ListUnresolvedAlerts(ctx)
	}
	return alerts, nil
}

// evaluateAlerts keeps at most one unresolved alert per item: one exists while the
// item is below its reorder point and none exist otherwise.
func evaluateAlerts(ctx context.Context, tx TxRepository, item Item, now time.Time) (AlertChange, error) {
	if item.BelowReorderPoint() {
		alert, inserted, err := tx.InsertAlert(ctx, LowStockAlert{
			ItemID:      item.ID,
			Name:        item.Description,
			Quantity:    item.Quantity,
			MinStock:    *item.ReorderPoint,
			TriggeredAt: now,
		})
		if err != nil {
			return AlertChange{}, fmt.Errorf("inventory: raise alert: %w", err)
		}
		if !inserted {
			return AlertChange{}, nil
		}
		return AlertChange{Raised: &alert}, nil
	}
	n, err := tx.ResolveAlerts(ctx, item.ID, now)
	if err != nil {
		return AlertChange{}, fmt.Errorf("inventory: resolve alerts: %w", err)
	}
	return AlertChange{Resolved: n}, nil
}

func (s *Service) afterMovement(ctx context.Context, result MovementResult) {
	if s.metrics != nil {
		s.metrics.MovementPosted(string(result.Transaction.Direction), result.Transaction.Quantity)
	}
	s.afterAlertChange(ctx, result.Item.ID, result.Alerts)
	s.record(ctx, "inventory:"+string(result.Transaction.Direction), "inventory_tx", result.Transaction.ID, map[string]any{
		"item_id":  result.Item.ID,
		"quantity": result.Transaction.Quantity,
		"ref_key":  result.Transaction.RefKey,
	})
}

func (s *Service) afterAlertChange(ctx context.Context, itemID int64, change AlertChange) {
	if s.metrics != nil {
		if change.Raised != nil {
			s.metrics.AlertRaised()
		}
		if change.Resolved > 0 {
			s.metrics.AlertsResolved(int(change.Resolved))
		}
	}
	if change.Changed() && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate alert cache", slog.Any("error", err), slog.Int64("item_id", itemID))
		}
	}
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprint(id),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.Any("error", err), slog.String("action", action))
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
