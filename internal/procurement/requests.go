package procurement

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/serial"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// CreatePRInput describes creation payload.
type CreatePRInput struct {
	ItemDescription string   `json:"itemDescription" validate:"required"`
	Quantity        *float64 `json:"quantity" validate:"required,gt=0"`
	Priority        string   `json:"priority" validate:"required"`
	BudgetCode      string   `json:"budgetCode" validate:"required"`
	Department      string   `json:"department" validate:"required"`
	Requester       string   `json:"requester" validate:"required"`
	Attachments     []string `json:"attachments"`
}

// UpdatePRStatusInput moves a pending request to a decision.
type UpdatePRStatusInput struct {
	Status  string `json:"status" validate:"required,oneof=approved sent_to_procurement rejected"`
	Comment string `json:"comment"`
}

// PRFilter narrows purchase request listings.
type PRFilter struct {
	Status     string
	Department string
	Page       shared.ListFilter
}

// CreatePurchaseRequest validates the request, allocates its serial and stores it as pending.
func (s *Service) CreatePurchaseRequest(ctx context.Context, input CreatePRInput) (PurchaseRequest, error) {
	input.ItemDescription = strings.TrimSpace(input.ItemDescription)
	input.Priority = strings.TrimSpace(input.Priority)
	input.BudgetCode = strings.TrimSpace(input.BudgetCode)
	input.Department = strings.TrimSpace(input.Department)
	input.Requester = strings.TrimSpace(input.Requester)
	if input.Requester == "" {
		input.Requester = shared.ActorFromContext(ctx)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseRequest{}, err
	}

	pr := PurchaseRequest{
		ItemDescription: input.ItemDescription,
		Quantity:        *input.Quantity,
		Priority:        input.Priority,
		BudgetCode:      input.BudgetCode,
		Department:      input.Department,
		Requester:       input.Requester,
		Attachments:     nonNilStrings(input.Attachments),
		Status:          PRStatusPending,
		ApprovalHistory: []shared.ApprovalEntry{},
	}
	var created PurchaseRequest
	err := s.withSerial(ctx, serial.DocPurchaseRequest, pr.Department, collectionPurchaseRequests, func(sn string) error {
		pr.Serial = sn
		var err error
		created, err = s.repo.CreatePR(ctx, pr)
		return err
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, "PR_CREATE", "purchase_request", created.ID, map[string]any{"serial": created.Serial})
	return created, nil
}

// GetPurchaseRequest returns a request.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetPR(ctx, id)
}

// ListPurchaseRequests returns requests, newest first.
func (s *Service) ListPurchaseRequests(ctx context.Context, filter PRFilter) ([]PurchaseRequest, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListPRs(ctx, filter)
}

// UpdatePurchaseRequestStatus applies a decision to a pending request and appends
// it to the approval history. Approval is refused while stock of the requested item
// is at or above its reorder point. The stock check and the status write are two
// steps; a receipt landing between them is not detected.
func (s *Service) UpdatePurchaseRequestStatus(ctx context.Context, id int64, input UpdatePRStatusInput, actor string) (PurchaseRequest, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseRequest{}, err
	}
	if strings.TrimSpace(actor) == "" {
		return PurchaseRequest{}, shared.ErrUnauthorized
	}
	pr, err := s.repo.GetPR(ctx, id)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if pr.Status != PRStatusPending {
		return PurchaseRequest{}, ErrInvalidTransition
	}
	target := PRStatus(input.Status)
	if target == PRStatusApproved {
		if err := s.ensureStockShort(ctx, pr); err != nil {
			return PurchaseRequest{}, err
		}
	}

	entry := shared.NewApprovalEntry(actor, string(target), input.Comment, s.now())
	updated, err := s.repo.TransitionPR(ctx, id, PRStatusPending, target, entry)
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.logger.Info("purchase request decided",
		slog.Int64("id", updated.ID),
		slog.String("serial", updated.Serial),
		slog.String("status", string(updated.Status)),
		slog.String("actor", actor))
	s.recordAudit(ctx, "PR_STATUS", "purchase_request", updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}

func (s *Service) ensureStockShort(ctx context.Context, pr PurchaseRequest) error {
	item, err := s.inventory.FindByDescription(ctx, pr.ItemDescription)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if item.StockSufficient() {
		return ErrStockSufficient
	}
	return nil
}

// DeletePurchaseRequest removes a request. This is an administrative override.
func (s *Service) DeletePurchaseRequest(ctx context.Context, id int64) error {
	if err := s.repo.DeletePR(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "PR_DELETE", "purchase_request", id, nil)
	return nil
}
