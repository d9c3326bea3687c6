package vendors

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Status is the operational status of a vendor.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusBlacklisted Status = "blacklisted"
)

// RegistrationStatus tracks vendor onboarding.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
)

// Vendor is a supplier referenced by quotations and purchase orders.
type Vendor struct {
	ID                 int64                  `json:"id"`
	Name               string                 `json:"name"`
	ContactPerson      string                 `json:"contactPerson,omitempty"`
	Email              string                 `json:"email,omitempty"`
	Phone              string                 `json:"phone,omitempty"`
	Address            string                 `json:"address,omitempty"`
	RegistrationStatus RegistrationStatus     `json:"registrationStatus"`
	Status             Status                 `json:"status"`
	Rating             *float64               `json:"rating,omitempty"`
	Documents          []string               `json:"documents"`
	ApprovalHistory    []shared.ApprovalEntry `json:"approvalHistory"`
	CreatedAt          time.Time              `json:"createdAt"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

// Eligible reports whether purchase orders may be issued to the vendor.
func (v Vendor) Eligible() bool {
	return v.RegistrationStatus == RegistrationApproved && v.Status != StatusBlacklisted
}

// RegisterInput describes a new vendor.
type RegisterInput struct {
	Name          string   `json:"name" validate:"required"`
	ContactPerson string   `json:"contactPerson"`
	Email         string   `json:"email" validate:"omitempty,email"`
	Phone         string   `json:"phone"`
	Address       string   `json:"address"`
	Rating        *float64 `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Documents     []string `json:"documents"`
}

// UpdateInput patches a vendor. Nil fields are left untouched.
type UpdateInput struct {
	Name               *string   `json:"name" validate:"omitempty,min=1"`
	ContactPerson      *string   `json:"contactPerson"`
	Email              *string   `json:"email" validate:"omitempty,email"`
	Phone              *string   `json:"phone"`
	Address            *string   `json:"address"`
	Rating             *float64  `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Documents          *[]string `json:"documents"`
	Status             *string   `json:"status" validate:"omitempty,oneof=active inactive blacklisted"`
	RegistrationStatus *string   `json:"registrationStatus" validate:"omitempty,oneof=pending approved rejected"`
	Comment            string    `json:"comment"`
}

// ListFilter narrows List.
type ListFilter struct {
	Status             string
	RegistrationStatus string
	Page               shared.ListFilter
}

var (
	// ErrVendorNotFound indicates the vendor does not exist.
	ErrVendorNotFound = fmt.Errorf("vendor: %w", shared.ErrNotFound)
	// ErrDuplicateName indicates another vendor already uses the name.
	ErrDuplicateName = fmt.Errorf("vendor name: %w", shared.ErrDuplicate)
)
