// services/batch_service_test.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/openadresse/moissonneur/models"
	"github.com/openadresse/moissonneur/utils"
)

type BatchServiceSuite struct {
	suite.Suite
	sources   *memSourceStore
	harvests  *memHarvestStore
	revisions *memRevisionStore
	orgs      *memOrganizationStore
	fetcher   *fakeFetcher
	exportDir string
	batch     *BatchService
}

func TestBatchServiceSuite(t *testing.T) {
	suite.Run(t, new(BatchServiceSuite))
}

func (s *BatchServiceSuite) SetupTest() {
	s.sources = newMemSourceStore()
	s.harvests = newMemHarvestStore()
	s.revisions = newMemRevisionStore()
	s.orgs = newMemOrganizationStore(models.Organization{ID: "org-1", Name: "Test org"})
	s.fetcher = newFakeFetcher()
	s.exportDir = s.T().TempDir()

	harvester := NewHarvestService(
		s.sources, s.harvests, s.revisions, s.orgs, s.fetcher,
		NewReconciler(10, utils.DefaultCommuneRegistry()))
	s.batch = NewBatchService(
		s.sources, harvester, utils.DefaultCommuneRegistry(),
		s.exportDir, 2, 24*time.Hour)
}

// addSource registers one enabled source and, unless payload is nil, the
// bytes its URL serves.
func (s *BatchServiceSuite) addSource(id string, payload []byte) {
	url := "mem://bal/" + id
	err := s.sources.UpsertSource(context.Background(), models.Source{
		ID:             id,
		OrganizationID: "org-1",
		Title:          "Source " + id,
		URL:            url,
		License:        "lov2",
		Enabled:        true,
	})
	s.Require().NoError(err)
	if payload != nil {
		s.fetcher.mu.Lock()
		s.fetcher.files[url] = payload
		s.fetcher.mu.Unlock()
	}
}

func (s *BatchServiceSuite) TestRunBoundsConcurrency() {
	s.fetcher.delay = 25 * time.Millisecond
	for i := 0; i < 6; i++ {
		s.addSource(fmt.Sprintf("src-%d", i), balCSV(bordeauxRow1))
	}

	report, err := s.batch.Run(context.Background())
	s.Require().NoError(err)

	s.Equal(6, report.SourcesSelected)
	s.Equal(6, report.Harvested)
	s.Equal(0, report.Failed)
	s.Equal(0, report.Skipped)
	s.LessOrEqual(s.fetcher.maxInFlight, 2)

	// All six sources cover the same commune.
	s.Equal(1, report.DistinctCommunes)
	s.Equal(int64(265328), report.PopulationCovered)
}

func (s *BatchServiceSuite) TestRunIsolatesSourceFailures() {
	s.addSource("src-ok-1", balCSV(bordeauxRow1))
	s.addSource("src-broken", nil) // fetch will 404
	s.addSource("src-ok-2", balCSV(nantesRow7))

	report, err := s.batch.Run(context.Background())
	s.Require().NoError(err)

	s.Equal(3, report.SourcesSelected)
	s.Equal(2, report.Harvested)
	s.Equal(1, report.Failed)
	s.Equal(2, report.AcceptedRows)
	s.Len(report.Reports, 3)

	var failed *models.SourceReport
	for i := range report.Reports {
		if report.Reports[i].SourceID == "src-broken" {
			failed = &report.Reports[i]
		}
	}
	s.Require().NotNil(failed)
	s.Equal(string(models.HarvestStatusFailed), failed.Status)
	s.Contains(failed.Error, "received status code 404")
}

func (s *BatchServiceSuite) TestRunSkipsLockedSources() {
	s.addSource("src-1", balCSV(bordeauxRow1))
	s.addSource("src-locked", balCSV(nantesRow7))

	locked, err := s.sources.AcquireHarvestLock(context.Background(), "src-locked", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NotNil(locked)

	report, err := s.batch.Run(context.Background())
	s.Require().NoError(err)

	s.Equal(1, report.Harvested)
	s.Equal(1, report.Skipped)
	s.Equal(0, report.Failed)
}

func (s *BatchServiceSuite) TestRunWritesExportArtifacts() {
	s.addSource("src-1", balCSV(bordeauxRow1, bordeauxRow3))
	s.addSource("src-2", balCSV(nantesRow7))

	report, err := s.batch.Run(context.Background())
	s.Require().NoError(err)
	s.Require().NotEmpty(report.ExportDir)
	s.Equal(3, report.AcceptedRows)

	csvData, err := os.ReadFile(filepath.Join(report.ExportDir, "adresses.csv"))
	s.Require().NoError(err)
	lines := strings.Split(strings.TrimRight(string(csvData), "\n"), "\n")
	// Header plus one line per accepted row.
	s.Len(lines, report.AcceptedRows+1)
	s.Contains(lines[0], "cle_interop")
	s.Contains(string(csvData), "lov2")

	manifestData, err := os.ReadFile(filepath.Join(report.ExportDir, "manifest.json"))
	s.Require().NoError(err)
	var manifest []ManifestEntry
	s.Require().NoError(json.Unmarshal(manifestData, &manifest))
	s.Len(manifest, 2)
	total := 0
	for _, entry := range manifest {
		total += entry.AcceptedRows
	}
	s.Equal(report.AcceptedRows, total)

	communesData, err := os.ReadFile(filepath.Join(report.ExportDir, "communes.json"))
	s.Require().NoError(err)
	var communes map[string][]models.ExportAddress
	s.Require().NoError(json.Unmarshal(communesData, &communes))
	s.Len(communes, 2)
	s.Len(communes["33063"], 2)
	s.Len(communes["44109"], 1)

	_, err = os.Stat(filepath.Join(report.ExportDir, "report.json"))
	s.NoError(err)
}

func (s *BatchServiceSuite) TestRunWithNoDueSources() {
	report, err := s.batch.Run(context.Background())
	s.Require().NoError(err)
	s.Equal(0, report.SourcesSelected)
	s.Empty(report.ExportDir)
}
