// services/sync_service.go
package services

import (
	"context"
	"fmt"
	"log"

	"github.com/openadresse/moissonneur/models"
)

// SyncService refreshes the source table from the published BAL catalog.
// Harvest state (locks, last-harvest timestamps) is never touched by a sync.
type SyncService struct {
	sources       SourceStore
	organizations OrganizationStore
	catalog       CatalogFetcher
}

func NewSyncService(sources SourceStore, organizations OrganizationStore, catalog CatalogFetcher) *SyncService {
	return &SyncService{sources: sources, organizations: organizations, catalog: catalog}
}

// SyncSources scrapes the catalog and upserts the organizations and sources
// it lists. Returns the number of sources synced.
func (s *SyncService) SyncSources(ctx context.Context) (int, error) {
	entries, err := s.catalog.FetchCatalog(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch BAL catalog: %w", err)
	}

	synced := 0
	for _, entry := range entries {
		org := models.Organization{
			ID:   entry.OrganizationID,
			Name: entry.OrganizationName,
			Page: entry.OrganizationPage,
		}
		if err := s.organizations.UpsertOrganization(ctx, org); err != nil {
			return synced, err
		}

		src := models.Source{
			ID:             entry.ID,
			OrganizationID: entry.OrganizationID,
			Title:          entry.Title,
			URL:            entry.URL,
			License:        entry.License,
			Enabled:        true,
		}
		if err := s.sources.UpsertSource(ctx, src); err != nil {
			return synced, err
		}
		synced++
	}

	log.Printf("Service: synced %d source(s) from the BAL catalog\n", synced)
	return synced, nil
}
