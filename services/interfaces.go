// services/interfaces.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/openadresse/moissonneur/models"
	"github.com/openadresse/moissonneur/scraper"
)

// ErrSourceLocked signals benign lock contention: another harvest of the
// same source is already in flight. Callers log and skip; it is never
// recorded as a failure.
var ErrSourceLocked = errors.New("source already has a harvest in progress")

// ReconciliationError reports an internal inconsistency while comparing a
// parse against the previous completed harvest (e.g. a prior revision
// missing its commune code).
type ReconciliationError struct {
	Reason string
}

func (e *ReconciliationError) Error() string {
	return "reconciliation failed: " + e.Reason
}

// SourceStore persists sources and owns the harvest lock.
// AcquireHarvestLock must be atomic compare-and-set against a nil lock
// timestamp and return (nil, nil) on contention; ReleaseHarvestLock also
// stamps the last-harvest time, whatever the attempt's outcome was.
type SourceStore interface {
	FindSourcesToHarvest(ctx context.Context, threshold time.Duration) ([]models.Source, error)
	AcquireHarvestLock(ctx context.Context, sourceID string, at time.Time) (*models.Source, error)
	ReleaseHarvestLock(ctx context.Context, sourceID string, at time.Time) error
	GetSource(ctx context.Context, sourceID string) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	UpsertSource(ctx context.Context, src models.Source) error
}

// HarvestStore persists harvest attempts.
type HarvestStore interface {
	CreateHarvest(ctx context.Context, sourceID string, startedAt time.Time) (*models.Harvest, error)
	FinalizeHarvest(ctx context.Context, harvestID string, fin models.HarvestFinalization) error
	GetLastCompletedHarvest(ctx context.Context, sourceID string) (*models.Harvest, error)
	ListHarvestsBySource(ctx context.Context, sourceID string, limit int) ([]models.Harvest, error)
}

// RevisionStore appends per-commune outcomes.
type RevisionStore interface {
	CreateRevision(ctx context.Context, rev *models.Revision) error
	GetRevisionsByHarvest(ctx context.Context, harvestID string) ([]models.Revision, error)
}

// OrganizationStore reads source owners and their declared perimeters.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, organizationID string) (*models.Organization, error)
	GetPerimeters(ctx context.Context, organizationID string) ([]models.Perimeter, error)
	UpsertOrganization(ctx context.Context, org models.Organization) error
}

// CommuneRegistry is the external commune reference lookup.
type CommuneRegistry interface {
	Lookup(code string) (models.Commune, bool)
	InPerimeter(codeCommune string, perimeters []models.Perimeter) bool
}

// BALFetcher downloads one source's file.
type BALFetcher interface {
	FetchBAL(ctx context.Context, url string) ([]byte, error)
}

// CatalogFetcher discovers published BAL sources.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context) ([]scraper.CatalogEntry, error)
}
