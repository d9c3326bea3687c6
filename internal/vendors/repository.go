package vendors

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Repository persists vendors in PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const vendorColumns = `id, name, contact_person, email, phone, address, registration_status, status, rating, documents, approval_history, created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.Name, &v.ContactPerson, &v.Email, &v.Phone, &v.Address,
		&v.RegistrationStatus, &v.Status, &v.Rating, &v.Documents, &v.ApprovalHistory, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, ErrVendorNotFound
	}
	if err != nil {
		return Vendor{}, err
	}
	if v.Documents == nil {
		v.Documents = []string{}
	}
	if v.ApprovalHistory == nil {
		v.ApprovalHistory = []shared.ApprovalEntry{}
	}
	return v, nil
}

// Create inserts a vendor.
func (r *Repository) Create(ctx context.Context, v Vendor) (Vendor, error) {
	created, err := scanVendor(r.db.QueryRow(ctx, `
		INSERT INTO vendors (name, contact_person, email, phone, address, registration_status, status, rating, documents, approval_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+vendorColumns,
		v.Name, v.ContactPerson, v.Email, v.Phone, v.Address, v.RegistrationStatus, v.Status, v.Rating, v.Documents, v.ApprovalHistory))
	if db.IsUniqueViolation(err) {
		return Vendor{}, ErrDuplicateName
	}
	return created, err
}

// Get loads a vendor by id.
func (r *Repository) Get(ctx context.Context, id int64) (Vendor, error) {
	return scanVendor(r.db.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
}

// List returns vendors ordered by name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Vendor, error) {
	page := filter.Page.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.RegistrationStatus != "" {
		args = append(args, filter.RegistrationStatus)
		where = append(where, "registration_status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + vendorColumns + ` FROM vendors`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY name LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Update writes the patched fields and appends newEntries to the approval history.
func (r *Repository) Update(ctx context.Context, v Vendor, newEntries []shared.ApprovalEntry) (Vendor, error) {
	if newEntries == nil {
		newEntries = []shared.ApprovalEntry{}
	}
	updated, err := scanVendor(r.db.QueryRow(ctx, `
		UPDATE vendors
		SET name = $2, contact_person = $3, email = $4, phone = $5, address = $6,
		    registration_status = $7, status = $8, rating = $9, documents = $10,
		    approval_history = approval_history || $11::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING `+vendorColumns,
		v.ID, v.Name, v.ContactPerson, v.Email, v.Phone, v.Address,
		v.RegistrationStatus, v.Status, v.Rating, v.Documents, newEntries))
	if db.IsUniqueViolation(err) {
		return Vendor{}, ErrDuplicateName
	}
	return updated, err
}

// Delete removes the vendor row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM vendors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVendorNotFound
	}
	return nil
}
