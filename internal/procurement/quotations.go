package procurement

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// ErrQuotationClosed blocks responses, selection changes and re-decisions once a
// decision was recorded.
var ErrQuotationClosed = fmt.Errorf("procurement: quotation already decided: %w", shared.ErrConflict)

// CreateQuotationInput opens a quotation round for a purchase request.
type CreateQuotationInput struct {
	PurchaseRequestID int64   `json:"purchaseRequestId" validate:"required,gt=0"`
	Vendors           []int64 `json:"vendors" validate:"required,min=1,dive,gt=0"`
	Justification     string  `json:"justification"`
}

// QuoteResponseInput is a vendor response payload.
type QuoteResponseInput struct {
	VendorID int64    `json:"vendorId" validate:"required,gt=0"`
	File     string   `json:"file"`
	Price    *float64 `json:"price" validate:"required,gte=0"`
	Notes    string   `json:"notes"`
	Status   string   `json:"status"`
}

// UpdateQuotationInput patches a quotation. A nil Responses slice leaves the
// responses untouched; an empty one clears them.
type UpdateQuotationInput struct {
	Responses           []QuoteResponseInput `json:"responses" validate:"omitempty,dive"`
	SelectedVendor      *int64               `json:"selectedVendor" validate:"omitempty,gt=0"`
	ClearSelectedVendor bool                 `json:"clearSelectedVendor"`
	Justification       *string              `json:"justification"`
	ApprovalStatus      *string              `json:"approvalStatus" validate:"omitempty,oneof=pending approved rejected"`
}

// QuotationFilter narrows quotation listings.
type QuotationFilter struct {
	PurchaseRequestID int64
	Page              shared.ListFilter
}

// CreateQuotation records the invited vendors for a purchase request.
func (s *Service) CreateQuotation(ctx context.Context, input CreateQuotationInput) (Quotation, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Quotation{}, err
	}
	if _, err := s.repo.GetPR(ctx, input.PurchaseRequestID); err != nil {
		return Quotation{}, err
	}
	invited := dedupeIDs(input.Vendors)
	for _, id := range invited {
		if _, err := s.vendors.Get(ctx, id); err != nil {
			return Quotation{}, fmt.Errorf("quotation vendor %d: %w", id, err)
		}
	}
	created, err := s.repo.CreateQuotation(ctx, Quotation{
		PurchaseRequestID: input.PurchaseRequestID,
		Vendors:           invited,
		Responses:         []QuoteResponse{},
		Justification:     strings.TrimSpace(input.Justification),
		ApprovalStatus:    ApprovalPending,
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "QUOTATION_CREATE", "quotation", created.ID, map[string]any{
		"purchase_request_id": created.PurchaseRequestID,
		"vendors":             created.Vendors,
	})
	return created, nil
}

// GetQuotation returns a quotation.
func (s *Service) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	return s.repo.GetQuotation(ctx, id)
}

// ListQuotations returns quotations.
func (s *Service) ListQuotations(ctx context.Context, filter QuotationFilter) ([]Quotation, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListQuotations(ctx, filter)
}

// SubmitResponse stores or replaces an invited vendor's response while the
// quotation is still pending.
func (s *Service) SubmitResponse(ctx context.Context, quotationID int64, input QuoteResponseInput) (Quotation, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Quotation{}, err
	}
	q, err := s.repo.GetQuotation(ctx, quotationID)
	if err != nil {
		return Quotation{}, err
	}
	if q.ApprovalStatus != ApprovalPending {
		return Quotation{}, ErrQuotationClosed
	}
	if !q.Invited(input.VendorID) {
		return Quotation{}, shared.NewValidationError("vendorId", "vendor was not invited to this quotation")
	}
	updated, err := s.repo.UpsertQuoteResponse(ctx, quotationID, s.toResponse(input))
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "QUOTATION_RESPONSE", "quotation", updated.ID, map[string]any{"vendor_id": input.VendorID})
	return updated, nil
}

// UpdateQuotation replaces responses, records the selection and moves the approval status.
// A decided quotation only accepts justification edits.
func (s *Service) UpdateQuotation(ctx context.Context, id int64, input UpdateQuotationInput) (Quotation, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Quotation{}, err
	}
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if q.ApprovalStatus != ApprovalPending && changesDecision(q, input) {
		return Quotation{}, ErrQuotationClosed
	}
	if input.Responses != nil {
		q.Responses = make([]QuoteResponse, 0, len(input.Responses))
		for _, r := range input.Responses {
			q.Responses = append(q.Responses, s.toResponse(r))
		}
	}
	if input.ClearSelectedVendor {
		q.SelectedVendor = nil
	} else if input.SelectedVendor != nil {
		v := *input.SelectedVendor
		q.SelectedVendor = &v
	}
	if input.Justification != nil {
		q.Justification = strings.TrimSpace(*input.Justification)
	}
	if input.ApprovalStatus != nil {
		q.ApprovalStatus = ApprovalStatus(*input.ApprovalStatus)
	}
	if err := checkQuotation(q); err != nil {
		return Quotation{}, err
	}

	updated, err := s.repo.UpdateQuotation(ctx, q)
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "QUOTATION_UPDATE", "quotation", updated.ID, map[string]any{"approval_status": updated.ApprovalStatus})
	return updated, nil
}

// DeleteQuotation removes a quotation.
func (s *Service) DeleteQuotation(ctx context.Context, id int64) error {
	if err := s.repo.DeleteQuotation(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "QUOTATION_DELETE", "quotation", id, nil)
	return nil
}

func changesDecision(q Quotation, input UpdateQuotationInput) bool {
	if input.Responses != nil || input.ClearSelectedVendor {
		return true
	}
	if input.SelectedVendor != nil && (q.SelectedVendor == nil || *q.SelectedVendor != *input.SelectedVendor) {
		return true
	}
	return input.ApprovalStatus != nil && ApprovalStatus(*input.ApprovalStatus) != q.ApprovalStatus
}

func (s *Service) toResponse(in QuoteResponseInput) QuoteResponse {
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = ResponseStatusSubmitted
	}
	return QuoteResponse{
		VendorID:    in.VendorID,
		File:        strings.TrimSpace(in.File),
		Price:       *in.Price,
		Notes:       strings.TrimSpace(in.Notes),
		Status:      status,
		SubmittedAt: s.now(),
	}
}

// checkQuotation enforces that responses and the selection refer to invited vendors.
func checkQuotation(q Quotation) error {
	verr := &shared.ValidationError{}
	seen := make(map[int64]bool, len(q.Responses))
	for i, r := range q.Responses {
		field := "responses[" + strconv.Itoa(i) + "].vendorId"
		switch {
		case !q.Invited(r.VendorID):
			verr.Add(field, "vendor was not invited to this quotation")
		case seen[r.VendorID]:
			verr.Add(field, "vendor already responded")
		}
		seen[r.VendorID] = true
	}
	if q.SelectedVendor != nil {
		if !q.Invited(*q.SelectedVendor) {
			verr.Add("selectedVendor", "vendor was not invited to this quotation")
		} else if _, ok := q.Response(*q.SelectedVendor); !ok {
			verr.Add("selectedVendor", "vendor has not responded")
		}
	}
	if q.ApprovalStatus == ApprovalApproved && q.SelectedVendor == nil {
		verr.Add("approvalStatus", "approval requires a selected vendor")
	}
	return verr.OrNil()
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
