// database/revision_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openadresse/moissonneur/models"
)

// RevisionStore appends per-commune harvest outcomes. Revisions are never
// updated or deleted here; the publication block belongs to the external
// publisher.
type RevisionStore struct {
	DB *sql.DB
}

func NewRevisionStore(db *sql.DB) *RevisionStore {
	return &RevisionStore{DB: db}
}

// CreateRevision appends one revision. The id and creation time are set here
// if the caller left them empty.
func (s *RevisionStore) CreateRevision(ctx context.Context, rev *models.Revision) error {
	if rev.ID == "" {
		rev.ID = models.NewID()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	publicationJSON, err := marshalNullable(rev.Publication)
	if err != nil {
		return fmt.Errorf("failed to marshal publication for revision %s: %w", rev.ID, err)
	}
	validationJSON, err := marshalNullable(rev.Validation)
	if err != nil {
		return fmt.Errorf("failed to marshal validation for revision %s: %w", rev.ID, err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO revisions (id, source_id, harvest_id, file_id, data_hash, code_commune,
			update_status, update_rejection_reason, publication, validation, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?, ?)
	`, rev.ID, rev.SourceID, rev.HarvestID, rev.FileID, rev.DataHash, rev.CodeCommune,
		rev.UpdateStatus, rev.UpdateRejectionReason, publicationJSON, validationJSON, rev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create revision for commune %s: %w", rev.CodeCommune, err)
	}
	return nil
}

// GetRevisionsByHarvest returns every revision written for one harvest.
func (s *RevisionStore) GetRevisionsByHarvest(ctx context.Context, harvestID string) ([]models.Revision, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source_id, harvest_id, file_id, data_hash, code_commune,
		       update_status, update_rejection_reason, publication, validation, created_at
		FROM revisions
		WHERE harvest_id = ?
		ORDER BY code_commune
	`, harvestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions for harvest %s: %w", harvestID, err)
	}
	defer rows.Close()

	var revisions []models.Revision
	for rows.Next() {
		var rev models.Revision
		var fileID, dataHash, rejectionReason sql.NullString
		var publicationJSON, validationJSON []byte

		err := rows.Scan(
			&rev.ID, &rev.SourceID, &rev.HarvestID, &fileID, &dataHash, &rev.CodeCommune,
			&rev.UpdateStatus, &rejectionReason, &publicationJSON, &validationJSON, &rev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}
		if fileID.Valid {
			rev.FileID = fileID.String
		}
		if dataHash.Valid {
			rev.DataHash = dataHash.String
		}
		if rejectionReason.Valid {
			rev.UpdateRejectionReason = rejectionReason.String
		}
		if len(publicationJSON) > 0 {
			rev.Publication = &models.Publication{}
			if err := json.Unmarshal(publicationJSON, rev.Publication); err != nil {
				return nil, fmt.Errorf("failed to unmarshal publication for revision %s: %w", rev.ID, err)
			}
		}
		if len(validationJSON) > 0 {
			rev.Validation = &models.Validation{}
			if err := json.Unmarshal(validationJSON, rev.Validation); err != nil {
				return nil, fmt.Errorf("failed to unmarshal validation for revision %s: %w", rev.ID, err)
			}
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revision rows: %w", err)
	}
	return revisions, nil
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *models.Publication:
		if t == nil {
			return nil, nil
		}
	case *models.Validation:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
