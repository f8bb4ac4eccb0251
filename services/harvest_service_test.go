// services/harvest_service_test.go
package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/openadresse/moissonneur/models"
	"github.com/openadresse/moissonneur/utils"
)

func balCSV(lines ...string) []byte {
	header := "cle_interop;commune_insee;commune_nom;voie_nom;numero;suffixe;position;long;lat;date_der_maj"
	return []byte(header + "\n" + strings.Join(lines, "\n") + "\n")
}

const (
	bordeauxRow1 = "33063_0001_00001;33063;Bordeaux;Rue Sainte-Catherine;1;;entrée;-0.574;44.841;2024-01-10"
	bordeauxRow3 = "33063_0001_00003;33063;Bordeaux;Rue Sainte-Catherine;3;;entrée;-0.574;44.842;2024-01-10"
	nantesRow7   = "44109_0042_00007;44109;Nantes;Rue Crébillon;7;;entrée;-1.558;47.213;2024-02-01"
)

type HarvestServiceSuite struct {
	suite.Suite
	sources   *memSourceStore
	harvests  *memHarvestStore
	revisions *memRevisionStore
	orgs      *memOrganizationStore
	fetcher   *fakeFetcher
	svc       *HarvestService
}

func TestHarvestServiceSuite(t *testing.T) {
	suite.Run(t, new(HarvestServiceSuite))
}

func (s *HarvestServiceSuite) SetupTest() {
	s.sources = newMemSourceStore(models.Source{
		ID:             "src-1",
		OrganizationID: "org-1",
		Title:          "BAL Bordeaux Métropole",
		URL:            "mem://bal/src-1",
		License:        "lov2",
		Enabled:        true,
	})
	s.harvests = newMemHarvestStore()
	s.revisions = newMemRevisionStore()
	s.orgs = newMemOrganizationStore(models.Organization{ID: "org-1", Name: "Bordeaux Métropole"})
	s.fetcher = newFakeFetcher()
	s.svc = NewHarvestService(
		s.sources, s.harvests, s.revisions, s.orgs, s.fetcher,
		NewReconciler(10, utils.DefaultCommuneRegistry()))
}

func (s *HarvestServiceSuite) assertLockReleased(sourceID string) {
	src, err := s.sources.GetSource(context.Background(), sourceID)
	s.Require().NoError(err)
	s.Require().NotNil(src)
	s.Nil(src.HarvestingSince)
	s.NotNil(src.LastHarvest)
}

func (s *HarvestServiceSuite) TestFirstHarvestAllUpdated() {
	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow1, bordeauxRow3, nantesRow7)

	res, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.Equal(models.HarvestStatusCompleted, res.Harvest.Status)
	s.Equal(models.UpdateStatusUpdated, res.Harvest.UpdateStatus)
	s.NotEmpty(res.Harvest.FileHash)
	s.NotEmpty(res.Harvest.DataHash)
	s.NotNil(res.Harvest.FinishedAt)

	s.Require().Len(res.Revisions, 2)
	for _, rev := range res.Revisions {
		s.Equal(models.UpdateStatusUpdated, rev.UpdateStatus)
		s.Equal(res.Harvest.ID, rev.HarvestID)
	}
	s.Len(res.Accepted, 3)
	s.Equal(3, res.Report.NbRows)
	s.Equal(0, res.Report.NbRowsWithErrors)
	s.Equal(2, res.Report.Communes)

	stored, err := s.revisions.GetRevisionsByHarvest(context.Background(), res.Harvest.ID)
	s.Require().NoError(err)
	s.Len(stored, 2)
	s.assertLockReleased("src-1")
}

func (s *HarvestServiceSuite) TestIdenticalContentIsUnchanged() {
	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow1, nantesRow7)

	first, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)
	second, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.Equal(models.HarvestStatusCompleted, second.Harvest.Status)
	s.Equal(models.UpdateStatusUnchanged, second.Harvest.UpdateStatus)
	s.Equal(first.Harvest.DataHash, second.Harvest.DataHash)
	s.Equal(first.Harvest.FileHash, second.Harvest.FileHash)
	for _, rev := range second.Revisions {
		s.Equal(models.UpdateStatusUnchanged, rev.UpdateStatus)
	}
}

func (s *HarvestServiceSuite) TestSingleCommuneDelta() {
	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow1, nantesRow7)
	_, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow3, nantesRow7)
	res, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.Equal(models.UpdateStatusUpdated, res.Harvest.UpdateStatus)
	byCommune := make(map[string]models.UpdateStatus)
	for _, rev := range res.Revisions {
		byCommune[rev.CodeCommune] = rev.UpdateStatus
	}
	s.Equal(models.UpdateStatusUpdated, byCommune["33063"])
	s.Equal(models.UpdateStatusUnchanged, byCommune["44109"])
}

func (s *HarvestServiceSuite) TestFetchFailureFailsHarvest() {
	// No payload registered: the fake returns a 404 fetch error.
	res, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.Equal(models.HarvestStatusFailed, res.Harvest.Status)
	s.Contains(res.Harvest.Error, "received status code 404")
	s.Empty(res.Revisions)
	s.Empty(res.Accepted)
	s.assertLockReleased("src-1")

	// A failed harvest is never a baseline: the next successful run sees a
	// first harvest.
	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow1)
	next, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)
	s.Equal(models.UpdateStatusUpdated, next.Harvest.UpdateStatus)
}

func (s *HarvestServiceSuite) TestUnparsableFileFailsAndRejects() {
	s.fetcher.files["mem://bal/src-1"] = []byte("id;name\n1;foo\n")

	res, err := s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().NoError(err)

	s.Equal(models.HarvestStatusFailed, res.Harvest.Status)
	s.Equal(models.UpdateStatusRejected, res.Harvest.UpdateStatus)
	s.Contains(res.Harvest.UpdateRejectionReason, "missing mandatory columns")
	s.NotEmpty(res.Harvest.FileHash)
	s.Empty(res.Revisions)
	s.assertLockReleased("src-1")
}

func (s *HarvestServiceSuite) TestUnknownOrganizationFailsHarvest() {
	s.Require().NoError(s.sources.UpsertSource(context.Background(), models.Source{
		ID:             "src-orphan",
		OrganizationID: "org-missing",
		Title:          "Orphan source",
		URL:            "mem://bal/src-orphan",
		Enabled:        true,
	}))
	s.fetcher.files["mem://bal/src-orphan"] = balCSV(bordeauxRow1)

	res, err := s.svc.HarvestSource(context.Background(), "src-orphan")
	s.Require().NoError(err)
	s.Equal(models.HarvestStatusFailed, res.Harvest.Status)
	s.Contains(res.Harvest.Error, "organization org-missing not found")
}

func (s *HarvestServiceSuite) TestLockedSourceIsSkipped() {
	locked, err := s.sources.AcquireHarvestLock(context.Background(), "src-1", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NotNil(locked)

	_, err = s.svc.HarvestSource(context.Background(), "src-1")
	s.Require().ErrorIs(err, ErrSourceLocked)
}

func (s *HarvestServiceSuite) TestConcurrentAttemptsNeverOverlap() {
	s.fetcher.files["mem://bal/src-1"] = balCSV(bordeauxRow1)
	s.fetcher.delay = 30 * time.Millisecond

	const attempts = 5
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.svc.HarvestSource(context.Background(), "src-1")
		}(i)
	}
	wg.Wait()

	completed, locked := 0, 0
	for _, err := range results {
		if err == nil {
			completed++
			continue
		}
		s.Require().ErrorIs(err, ErrSourceLocked)
		locked++
	}
	s.Equal(attempts, completed+locked)
	s.GreaterOrEqual(completed, 1)
	// The lock keeps fetches strictly serialized for a single source.
	s.Equal(1, s.fetcher.maxInFlight)
}
