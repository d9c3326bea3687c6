// Package serial issues human-readable document numbers scoped per
// document type, department and day.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Document codes used as serial prefixes.
const (
	DocPurchaseRequest = "PR"
	DocPurchaseOrder   = "PO"
	DocGoodsReceipt    = "GRN"
	DocInvoice         = "PINV"
)

// Sequencer reserves the next number for a scope atomically.
type Sequencer interface {
	ReserveNext(ctx context.Context, scope string) (int64, error)
}

// Allocator builds serials like PR-HSE-240615-003.
type Allocator struct {
	seq Sequencer
	loc *time.Location
	now func() time.Time
}

// NewAllocator constructs an Allocator. A nil location means UTC.
func NewAllocator(seq Sequencer, loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{seq: seq, loc: loc, now: time.Now}
}

// Allocate reserves the next serial for docCode/department in collection.
func (a *Allocator) Allocate(ctx context.Context, docCode, department, collection string) (string, error) {
	if a == nil || a.seq == nil {
		return "", errors.New("serial: allocator not configured")
	}
	code := normalize(docCode)
	if code == "" {
		return "", errors.New("serial: document code required")
	}
	prefix := Prefix(code, department, a.now().In(a.loc))
	n, err := a.seq.ReserveNext(ctx, collection+"|"+prefix)
	if err != nil {
		return "", fmt.Errorf("serial: reserve %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s%03d", prefix, n), nil
}

// Prefix returns DOCCODE-DEPT-YYMMDD-. An empty department falls back to the document code.
func Prefix(docCode, department string, day time.Time) string {
	code := normalize(docCode)
	dept := normalize(department)
	if dept == "" {
		dept = code
	}
	return fmt.Sprintf("%s-%s-%s-", code, dept, day.Format("060102"))
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
