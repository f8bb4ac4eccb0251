// database/harvest_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openadresse/moissonneur/models"
)

// HarvestStore persists harvest attempts. Harvests are created 'active' and
// finalized exactly once; every other column write is refused.
type HarvestStore struct {
	DB *sql.DB
}

func NewHarvestStore(db *sql.DB) *HarvestStore {
	return &HarvestStore{DB: db}
}

const harvestColumns = `id, source_id, file_id, file_hash, data_hash, status,
	update_status, update_rejection_reason, error, started_at, finished_at`

// CreateHarvest records the beginning of one attempt.
func (s *HarvestStore) CreateHarvest(ctx context.Context, sourceID string, startedAt time.Time) (*models.Harvest, error) {
	harvest := &models.Harvest{
		ID:        models.NewID(),
		SourceID:  sourceID,
		Status:    models.HarvestStatusActive,
		StartedAt: startedAt,
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO harvests (id, source_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`, harvest.ID, harvest.SourceID, harvest.Status, harvest.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create harvest for source %s: %w", sourceID, err)
	}
	return harvest, nil
}

// FinalizeHarvest performs the single allowed transition out of 'active'.
// The status guard makes a second finalization a detectable error instead of
// a silent overwrite.
func (s *HarvestStore) FinalizeHarvest(ctx context.Context, harvestID string, fin models.HarvestFinalization) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE harvests
		SET status = ?, update_status = NULLIF(?, ''), update_rejection_reason = NULLIF(?, ''),
		    file_id = NULLIF(?, ''), file_hash = NULLIF(?, ''), data_hash = NULLIF(?, ''),
		    error = NULLIF(?, ''), finished_at = ?
		WHERE id = ? AND status = 'active'
	`, fin.Status, string(fin.UpdateStatus), fin.UpdateRejectionReason,
		fin.FileID, fin.FileHash, fin.DataHash, fin.Error, fin.FinishedAt, harvestID)
	if err != nil {
		return fmt.Errorf("failed to finalize harvest %s: %w", harvestID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for harvest %s: %w", harvestID, err)
	}
	if affected == 0 {
		return fmt.Errorf("harvest %s is not active, refusing to finalize twice", harvestID)
	}
	return nil
}

// GetLastCompletedHarvest returns the most recent completed harvest of a
// source, or (nil, nil) when the source has never completed one.
func (s *HarvestStore) GetLastCompletedHarvest(ctx context.Context, sourceID string) (*models.Harvest, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+harvestColumns+`
		FROM harvests
		WHERE source_id = ? AND status = 'completed'
		ORDER BY started_at DESC
		LIMIT 1
	`, sourceID)

	harvest, err := scanHarvest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last completed harvest for %s: %w", sourceID, err)
	}
	return harvest, nil
}

// ListHarvestsBySource returns a source's harvests, most recent first.
func (s *HarvestStore) ListHarvestsBySource(ctx context.Context, sourceID string, limit int) ([]models.Harvest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+harvestColumns+`
		FROM harvests
		WHERE source_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvests for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var harvests []models.Harvest
	for rows.Next() {
		h, err := scanHarvest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest row: %w", err)
		}
		harvests = append(harvests, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harvest rows: %w", err)
	}
	return harvests, nil
}

func scanHarvest(row rowScanner) (*models.Harvest, error) {
	var h models.Harvest
	var fileID, fileHash, dataHash, updateStatus, rejectionReason, harvestErr sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(
		&h.ID, &h.SourceID, &fileID, &fileHash, &dataHash, &h.Status,
		&updateStatus, &rejectionReason, &harvestErr, &h.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if fileID.Valid {
		h.FileID = fileID.String
	}
	if fileHash.Valid {
		h.FileHash = fileHash.String
	}
	if dataHash.Valid {
		h.DataHash = dataHash.String
	}
	if updateStatus.Valid {
		h.UpdateStatus = models.UpdateStatus(updateStatus.String)
	}
	if rejectionReason.Valid {
		h.UpdateRejectionReason = rejectionReason.String
	}
	if harvestErr.Valid {
		h.Error = harvestErr.String
	}
	if finishedAt.Valid {
		h.FinishedAt = &finishedAt.Time
	}
	return &h, nil
}
