// database/source_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openadresse/moissonneur/models"
)

// SourceStore persists sources and owns the harvest lock.
type SourceStore struct {
	DB *sql.DB
}

func NewSourceStore(db *sql.DB) *SourceStore {
	return &SourceStore{DB: db}
}

const sourceColumns = `id, organization_id, title, url, description, license, enabled,
	last_harvest, harvesting_since, created_at, updated_at, deleted_at`

// FindSourcesToHarvest returns enabled, non-deleted sources whose last
// successful harvest is older than the freshness threshold (or that were
// never harvested at all).
func (s *SourceStore) FindSourcesToHarvest(ctx context.Context, threshold time.Duration) ([]models.Source, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE enabled = TRUE
		  AND deleted_at IS NULL
		  AND (last_harvest IS NULL OR last_harvest < ?)
		ORDER BY last_harvest IS NULL DESC, last_harvest ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources to harvest: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

// AcquireHarvestLock atomically claims a source for harvesting. The guard on
// harvesting_since IS NULL makes the UPDATE a compare-and-set: exactly one
// concurrent caller can win. Returns (nil, nil) when the source is already
// locked, deleted, or unknown.
func (s *SourceStore) AcquireHarvestLock(ctx context.Context, sourceID string, at time.Time) (*models.Source, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE sources
		SET harvesting_since = ?
		WHERE id = ? AND harvesting_since IS NULL AND deleted_at IS NULL
	`, at, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire harvest lock for %s: %w", sourceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected for %s: %w", sourceID, err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetSource(ctx, sourceID)
}

// ReleaseHarvestLock clears the lock and stamps last_harvest, regardless of
// how the attempt ended.
func (s *SourceStore) ReleaseHarvestLock(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sources
		SET harvesting_since = NULL, last_harvest = ?
		WHERE id = ?
	`, at, sourceID)
	if err != nil {
		return fmt.Errorf("failed to release harvest lock for %s: %w", sourceID, err)
	}
	return nil
}

// GetSource returns one source by id, or (nil, nil) if it does not exist.
func (s *SourceStore) GetSource(ctx context.Context, sourceID string) (*models.Source, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources WHERE id = ?
	`, sourceID)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", sourceID, err)
	}
	return src, nil
}

// ListSources returns all non-deleted sources.
func (s *SourceStore) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE deleted_at IS NULL
		ORDER BY title
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

// UpsertSource inserts a discovered source or refreshes its catalog fields.
// The harvest state columns (last_harvest, harvesting_since) are never
// touched here.
func (s *SourceStore) UpsertSource(ctx context.Context, src models.Source) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sources (id, organization_id, title, url, description, license, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			organization_id = VALUES(organization_id),
			title = VALUES(title),
			url = VALUES(url),
			description = VALUES(description),
			license = VALUES(license),
			updated_at = NOW(),
			deleted_at = NULL
	`, src.ID, src.OrganizationID, src.Title, src.URL, src.Description, src.License, src.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", src.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var src models.Source
	var description, license sql.NullString
	var lastHarvest, harvestingSince, deletedAt sql.NullTime

	err := row.Scan(
		&src.ID, &src.OrganizationID, &src.Title, &src.URL, &description, &license, &src.Enabled,
		&lastHarvest, &harvestingSince, &src.CreatedAt, &src.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		src.Description = description.String
	}
	if license.Valid {
		src.License = license.String
	}
	if lastHarvest.Valid {
		src.LastHarvest = &lastHarvest.Time
	}
	if harvestingSince.Valid {
		src.HarvestingSince = &harvestingSince.Time
	}
	if deletedAt.Valid {
		src.DeletedAt = &deletedAt.Time
	}
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]models.Source, error) {
	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}
	return sources, nil
}
