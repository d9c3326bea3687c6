package inventory

import (
	"context"
)

// MetricsRecorder receives ledger and alert counters.
type MetricsRecorder interface {
	MovementPosted(direction string, qty float64)
	AlertRaised()
	AlertsResolved(n int)
}

// AlertCachePort serves unresolved alerts from a shared cache.
type AlertCachePort interface {
	Load(ctx context.Context, loader func(context.Context) ([]LowStockAlert, error)) ([]LowStockAlert, error)
	Invalidate(ctx context.Context) error
}
