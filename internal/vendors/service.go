package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// RepositoryPort abstracts vendor persistence.
type RepositoryPort interface {
	Create(ctx context.Context, v Vendor) (Vendor, error)
	Get(ctx context.Context, id int64) (Vendor, error)
	List(ctx context.Context, filter ListFilter) ([]Vendor, error)
	Update(ctx context.Context, v Vendor, newEntries []shared.ApprovalEntry) (Vendor, error)
	Delete(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the vendor registry.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs vendor service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a vendor as inactive and pending registration.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Vendor, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return Vendor{}, err
	}
	docs := input.Documents
	if docs == nil {
		docs = []string{}
	}
	v, err := s.repo.Create(ctx, Vendor{
		Name:               input.Name,
		ContactPerson:      strings.TrimSpace(input.ContactPerson),
		Email:              strings.TrimSpace(input.Email),
		Phone:              strings.TrimSpace(input.Phone),
		Address:            strings.TrimSpace(input.Address),
		RegistrationStatus: RegistrationPending,
		Status:             StatusInactive,
		Rating:             input.Rating,
		Documents:          docs,
		ApprovalHistory:    []shared.ApprovalEntry{},
	})
	if err != nil {
		return Vendor{}, err
	}
	s.record(ctx, "VENDOR_REGISTER", v.ID, map[string]any{"name": v.Name})
	return v, nil
}

// Get returns a vendor.
func (s *Service) Get(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.Get(ctx, id)
}

// List returns vendors.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Vendor, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, filter)
}

// Update patches a vendor. Status and registration changes append an approval
// history entry stamped with actor.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput, actor string) (Vendor, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Vendor{}, err
	}
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return Vendor{}, err
	}
	if input.Name != nil {
		v.Name = strings.TrimSpace(*input.Name)
		if v.Name == "" {
			return Vendor{}, shared.NewValidationError("name", "is required")
		}
	}
	if input.ContactPerson != nil {
		v.ContactPerson = strings.TrimSpace(*input.ContactPerson)
	}
	if input.Email != nil {
		v.Email = strings.TrimSpace(*input.Email)
	}
	if input.Phone != nil {
		v.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.Address != nil {
		v.Address = strings.TrimSpace(*input.Address)
	}
	if input.Rating != nil {
		v.Rating = input.Rating
	}
	if input.Documents != nil {
		v.Documents = *input.Documents
		if v.Documents == nil {
			v.Documents = []string{}
		}
	}

	now := s.now()
	var entries []shared.ApprovalEntry
	if input.RegistrationStatus != nil && RegistrationStatus(*input.RegistrationStatus) != v.RegistrationStatus {
		v.RegistrationStatus = RegistrationStatus(*input.RegistrationStatus)
		entries = append(entries, shared.NewApprovalEntry(actor, "registration_"+string(v.RegistrationStatus), input.Comment, now))
	}
	if input.Status != nil && Status(*input.Status) != v.Status {
		v.Status = Status(*input.Status)
		entries = append(entries, shared.NewApprovalEntry(actor, "status_"+string(v.Status), input.Comment, now))
	}
	if len(entries) > 0 && actor == "" {
		return Vendor{}, shared.ErrUnauthorized
	}

	updated, err := s.repo.Update(ctx, v, entries)
	if err != nil {
		return Vendor{}, err
	}
	if len(entries) > 0 {
		s.logger.Info("vendor status changed",
			slog.Int64("id", updated.ID),
			slog.String("status", string(updated.Status)),
			slog.String("registration", string(updated.RegistrationStatus)),
			slog.String("actor", actor))
	}
	s.record(ctx, "VENDOR_UPDATE", updated.ID, map[string]any{"history_entries": len(entries)})
	return updated, nil
}

// Delete removes a vendor. Quotations and orders referencing it keep the dangling id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "VENDOR_DELETE", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "vendor",
		EntityID: fmt.Sprint(id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err), slog.String("action", action))
	}
}
