package inventory

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Direction enumerates ledger movement directions.
type Direction string

const (
	// DirectionInbound adds stock.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound removes stock.
	DirectionOutbound Direction = "outbound"
)

// Item defaults applied when a field is omitted.
const (
	DefaultItemType   = "consumable"
	DefaultItemUnit   = "pcs"
	DefaultItemStatus = "active"
)

// Item is a stock-keeping record matched by description.
type Item struct {
	ID              int64     `json:"id"`
	Description     string    `json:"description"`
	Type            string    `json:"type"`
	Quantity        float64   `json:"quantity"`
	OpeningQuantity float64   `json:"openingQuantity"`
	Unit            string    `json:"unit"`
	ReorderPoint    *float64  `json:"rop,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BelowReorderPoint reports whether the item should carry an unresolved alert.
func (i Item) BelowReorderPoint() bool {
	return i.ReorderPoint != nil && i.Quantity < *i.ReorderPoint
}

// StockSufficient reports whether the item is at or above its reorder point.
// Items without a reorder point are never considered sufficient.
func (i Item) StockSufficient() bool {
	return i.ReorderPoint != nil && i.Quantity >= *i.ReorderPoint
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"itemId"`
	Direction Direction `json:"direction"`
	Quantity  float64   `json:"quantity"`
	Date      time.Time `json:"date"`
	User      string    `json:"user"`
	Notes     string    `json:"notes,omitempty"`
	RefKey    string    `json:"refKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LowStockAlert records an item dropping below its reorder point.
type LowStockAlert struct {
	ID          int64      `json:"id"`
	ItemID      int64      `json:"itemId"`
	Name        string     `json:"name"`
	Quantity    float64    `json:"quantity"`
	MinStock    float64    `json:"minStock"`
	TriggeredAt time.Time  `json:"triggeredAt"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// CreateItemInput registers an item manually. Quantity becomes the opening balance.
type CreateItemInput struct {
	Description  string   `json:"description" validate:"required"`
	Type         string   `json:"type"`
	Quantity     float64  `json:"quantity" validate:"gte=0"`
	Unit         string   `json:"unit"`
	ReorderPoint *float64 `json:"rop" validate:"omitempty,gte=0"`
	Status       string   `json:"status" validate:"omitempty,oneof=active inactive"`
}

// UpdateItemInput patches descriptive fields. Quantity only moves through the ledger.
type UpdateItemInput struct {
	Type              *string  `json:"type"`
	Unit              *string  `json:"unit"`
	ReorderPoint      *float64 `json:"rop" validate:"omitempty,gte=0"`
	ClearReorderPoint bool     `json:"clearRop"`
	Status            *string  `json:"status" validate:"omitempty,oneof=active inactive"`
}

// InboundInput adds stock to the item matching Description, creating it when absent.
type InboundInput struct {
	Description string    `json:"description" validate:"required"`
	Quantity    float64   `json:"quantity" validate:"gt=0"`
	Date        time.Time `json:"date"`
	User        string    `json:"user"`
	Notes       string    `json:"notes"`
	RefKey      string    `json:"refKey"`
}

// OutboundInput consumes stock from an existing item.
type OutboundInput struct {
	ItemID   int64     `json:"itemId" validate:"required,gt=0"`
	Quantity float64   `json:"quantity" validate:"gt=0"`
	Date     time.Time `json:"date"`
	User     string    `json:"user"`
	Notes    string    `json:"notes"`
}

// ListItemsFilter narrows ListItems.
type ListItemsFilter struct {
	Status string
	Page   shared.ListFilter
}

// AlertChange summarises what the alert monitor did for one movement.
type AlertChange struct {
	Raised   *LowStockAlert `json:"raised,omitempty"`
	Resolved int64          `json:"resolved"`
}

// Changed reports whether any alert row was written.
func (c AlertChange) Changed() bool {
	return c.Raised != nil || c.Resolved > 0
}

// MovementResult is returned by ledger movements.
type MovementResult struct {
	Item        Item        `json:"item"`
	Transaction Transaction `json:"transaction"`
	Alerts      AlertChange `json:"alerts"`
}

var (
	// ErrItemNotFound indicates the inventory item does not exist.
	ErrItemNotFound = fmt.Errorf("inventory item: %w", shared.ErrNotFound)
	// ErrNegativeStock is returned when an outbound movement exceeds available quantity.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrConflict)
	// ErrAlreadyApplied is returned when a movement with the same reference key exists.
	ErrAlreadyApplied = fmt.Errorf("inventory: movement already applied: %w", shared.ErrConflict)
	// ErrDuplicateItem indicates another item already uses the description.
	ErrDuplicateItem = fmt.Errorf("inventory item description: %w", shared.ErrDuplicate)
)
