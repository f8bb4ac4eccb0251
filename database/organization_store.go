// database/organization_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openadresse/moissonneur/models"
)

// OrganizationStore reads the organizations owning sources and the
// perimeters they declare.
type OrganizationStore struct {
	DB *sql.DB
}

func NewOrganizationStore(db *sql.DB) *OrganizationStore {
	return &OrganizationStore{DB: db}
}

// GetOrganization returns one organization by id, or (nil, nil) if it does
// not exist or was soft-deleted.
func (s *OrganizationStore) GetOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, page, logo, created_at, updated_at, deleted_at
		FROM organizations
		WHERE id = ? AND deleted_at IS NULL
	`, organizationID)

	var org models.Organization
	var page, logo sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(&org.ID, &org.Name, &page, &logo, &org.CreatedAt, &org.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization %s: %w", organizationID, err)
	}
	if page.Valid {
		org.Page = page.String
	}
	if logo.Valid {
		org.Logo = logo.String
	}
	if deletedAt.Valid {
		org.DeletedAt = &deletedAt.Time
	}
	return &org, nil
}

// GetPerimeters returns the perimeters declared by one organization.
func (s *OrganizationStore) GetPerimeters(ctx context.Context, organizationID string) ([]models.Perimeter, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, organization_id, type, code
		FROM perimeters
		WHERE organization_id = ?
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query perimeters for organization %s: %w", organizationID, err)
	}
	defer rows.Close()

	var perimeters []models.Perimeter
	for rows.Next() {
		var p models.Perimeter
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Type, &p.Code); err != nil {
			return nil, fmt.Errorf("failed to scan perimeter row: %w", err)
		}
		perimeters = append(perimeters, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating perimeter rows: %w", err)
	}
	return perimeters, nil
}

// UpsertOrganization inserts a discovered organization or refreshes its
// catalog fields.
func (s *OrganizationStore) UpsertOrganization(ctx context.Context, org models.Organization) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO organizations (id, name, page, logo, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			page = VALUES(page),
			logo = VALUES(logo),
			updated_at = NOW(),
			deleted_at = NULL
	`, org.ID, org.Name, org.Page, org.Logo)
	if err != nil {
		return fmt.Errorf("failed to upsert organization %s: %w", org.ID, err)
	}
	return nil
}
