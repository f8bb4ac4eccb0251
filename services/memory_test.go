// services/memory_test.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openadresse/moissonneur/models"
	"github.com/openadresse/moissonneur/scraper"
)

// In-memory collaborator implementations used by the service suites. The
// source store reproduces the compare-and-set lock semantics of the SQL
// store under a mutex so contention tests are meaningful.

type memSourceStore struct {
	mu      sync.Mutex
	sources map[string]*models.Source
}

func newMemSourceStore(sources ...models.Source) *memSourceStore {
	s := &memSourceStore{sources: make(map[string]*models.Source)}
	for i := range sources {
		src := sources[i]
		s.sources[src.ID] = &src
	}
	return s
}

func (s *memSourceStore) FindSourcesToHarvest(_ context.Context, threshold time.Duration) ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-threshold)
	var due []models.Source
	for _, src := range s.sources {
		if !src.Enabled || src.DeletedAt != nil {
			continue
		}
		if src.LastHarvest == nil || src.LastHarvest.Before(cutoff) {
			due = append(due, *src)
		}
	}
	return due, nil
}

func (s *memSourceStore) AcquireHarvestLock(_ context.Context, sourceID string, at time.Time) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok || src.DeletedAt != nil || src.HarvestingSince != nil {
		return nil, nil
	}
	lockedAt := at
	src.HarvestingSince = &lockedAt
	copied := *src
	return &copied, nil
}

func (s *memSourceStore) ReleaseHarvestLock(_ context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("unknown source %s", sourceID)
	}
	harvestedAt := at
	src.HarvestingSince = nil
	src.LastHarvest = &harvestedAt
	return nil
}

func (s *memSourceStore) GetSource(_ context.Context, sourceID string) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return nil, nil
	}
	copied := *src
	return &copied, nil
}

func (s *memSourceStore) ListSources(_ context.Context) ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Source
	for _, src := range s.sources {
		if src.DeletedAt == nil {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (s *memSourceStore) UpsertSource(_ context.Context, src models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sources[src.ID]; ok {
		existing.OrganizationID = src.OrganizationID
		existing.Title = src.Title
		existing.URL = src.URL
		existing.Description = src.Description
		existing.License = src.License
		existing.DeletedAt = nil
		return nil
	}
	copied := src
	s.sources[src.ID] = &copied
	return nil
}

type memHarvestStore struct {
	mu       sync.Mutex
	harvests map[string]*models.Harvest
}

func newMemHarvestStore() *memHarvestStore {
	return &memHarvestStore{harvests: make(map[string]*models.Harvest)}
}

func (s *memHarvestStore) CreateHarvest(_ context.Context, sourceID string, startedAt time.Time) (*models.Harvest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &models.Harvest{
		ID:        models.NewID(),
		SourceID:  sourceID,
		Status:    models.HarvestStatusActive,
		StartedAt: startedAt,
	}
	s.harvests[h.ID] = h
	copied := *h
	return &copied, nil
}

func (s *memHarvestStore) FinalizeHarvest(_ context.Context, harvestID string, fin models.HarvestFinalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.harvests[harvestID]
	if !ok {
		return fmt.Errorf("unknown harvest %s", harvestID)
	}
	if h.Status != models.HarvestStatusActive {
		return fmt.Errorf("harvest %s is not active", harvestID)
	}
	applyFinalization(h, fin)
	return nil
}

func (s *memHarvestStore) GetLastCompletedHarvest(_ context.Context, sourceID string) (*models.Harvest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *models.Harvest
	for _, h := range s.harvests {
		if h.SourceID != sourceID || h.Status != models.HarvestStatusCompleted {
			continue
		}
		if last == nil || h.StartedAt.After(last.StartedAt) {
			last = h
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func (s *memHarvestStore) ListHarvestsBySource(_ context.Context, sourceID string, _ int) ([]models.Harvest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Harvest
	for _, h := range s.harvests {
		if h.SourceID == sourceID {
			out = append(out, *h)
		}
	}
	return out, nil
}

type memRevisionStore struct {
	mu        sync.Mutex
	revisions []models.Revision
}

func newMemRevisionStore() *memRevisionStore {
	return &memRevisionStore{}
}

func (s *memRevisionStore) CreateRevision(_ context.Context, rev *models.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev.ID == "" {
		rev.ID = models.NewID()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	s.revisions = append(s.revisions, *rev)
	return nil
}

func (s *memRevisionStore) GetRevisionsByHarvest(_ context.Context, harvestID string) ([]models.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Revision
	for _, rev := range s.revisions {
		if rev.HarvestID == harvestID {
			out = append(out, rev)
		}
	}
	return out, nil
}

type memOrganizationStore struct {
	mu            sync.Mutex
	organizations map[string]*models.Organization
	perimeters    map[string][]models.Perimeter
}

func newMemOrganizationStore(orgs ...models.Organization) *memOrganizationStore {
	s := &memOrganizationStore{
		organizations: make(map[string]*models.Organization),
		perimeters:    make(map[string][]models.Perimeter),
	}
	for i := range orgs {
		org := orgs[i]
		s.organizations[org.ID] = &org
	}
	return s
}

func (s *memOrganizationStore) GetOrganization(_ context.Context, organizationID string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.organizations[organizationID]
	if !ok || org.DeletedAt != nil {
		return nil, nil
	}
	copied := *org
	return &copied, nil
}

func (s *memOrganizationStore) GetPerimeters(_ context.Context, organizationID string) ([]models.Perimeter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Perimeter(nil), s.perimeters[organizationID]...), nil
}

func (s *memOrganizationStore) UpsertOrganization(_ context.Context, org models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := org
	s.organizations[org.ID] = &copied
	return nil
}

func (s *memOrganizationStore) setPerimeters(organizationID string, perimeters ...models.Perimeter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perimeters[organizationID] = perimeters
}

// fakeFetcher serves canned payloads by URL and tracks how many fetches run
// at the same time.
type fakeFetcher struct {
	mu          sync.Mutex
	files       map[string][]byte
	errs        map[string]error
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string][]byte), errs: make(map[string]error)}
}

func (f *fakeFetcher) FetchBAL(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	data, okData := f.files[url]
	err, okErr := f.errs[url]
	f.mu.Unlock()

	if okErr {
		return nil, err
	}
	if !okData {
		return nil, &scraper.FetchError{Kind: scraper.FetchBadStatus, URL: url, Status: 404}
	}
	return data, nil
}
