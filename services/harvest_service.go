// services/harvest_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/openadresse/moissonneur/metrics"
	"github.com/openadresse/moissonneur/models"
	"github.com/openadresse/moissonneur/scraper"
)

// HarvestService runs one complete harvesting attempt of a single source:
// lock, fetch, parse, fingerprint, reconcile, record, unlock.
type HarvestService struct {
	sources       SourceStore
	harvests      HarvestStore
	revisions     RevisionStore
	organizations OrganizationStore
	fetcher       BALFetcher
	reconciler    *Reconciler
}

func NewHarvestService(
	sources SourceStore,
	harvests HarvestStore,
	revisions RevisionStore,
	organizations OrganizationStore,
	fetcher BALFetcher,
	reconciler *Reconciler,
) *HarvestService {
	return &HarvestService{
		sources:       sources,
		harvests:      harvests,
		revisions:     revisions,
		organizations: organizations,
		fetcher:       fetcher,
		reconciler:    reconciler,
	}
}

// AttemptResult is everything one terminal attempt produced: the finalized
// harvest, its revisions, the rows accepted for export, and the per-source
// report.
type AttemptResult struct {
	Source    models.Source
	Harvest   models.Harvest
	Revisions []models.Revision
	Accepted  []models.BALRow
	Report    models.SourceReport
}

// HarvestSource runs one attempt end to end. Fetch, parse and
// reconciliation errors are caught here and recorded as a failed harvest;
// store errors propagate to the caller as fatal. Returns ErrSourceLocked
// when another harvest of the source is already in flight. The lock is
// always released, and release stamps the last-harvest time regardless of
// outcome.
func (s *HarvestService) HarvestSource(ctx context.Context, sourceID string) (*AttemptResult, error) {
	startedAt := time.Now().UTC()

	src, err := s.sources.AcquireHarvestLock(ctx, sourceID, startedAt)
	if err != nil {
		return nil, err
	}
	if src == nil {
		metrics.SourcesSkippedTotal.Inc()
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrSourceLocked)
	}
	defer func() {
		// Release must survive batch cancellation.
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := s.sources.ReleaseHarvestLock(releaseCtx, sourceID, startedAt); relErr != nil {
			log.Printf("ERROR Service: failed to release harvest lock for %s: %v\n", sourceID, relErr)
		}
	}()

	harvest, err := s.harvests.CreateHarvest(ctx, sourceID, startedAt)
	if err != nil {
		return nil, err
	}

	result := &AttemptResult{Source: *src}
	fin, err := s.attempt(ctx, src, harvest, result)
	if err != nil {
		// A collaborator failed mid-attempt. Best-effort close of the
		// harvest record before the error escapes to the batch.
		fin = models.HarvestFinalization{
			Status:     models.HarvestStatusFailed,
			Error:      err.Error(),
			FinishedAt: time.Now().UTC(),
		}
		if finErr := s.harvests.FinalizeHarvest(context.WithoutCancel(ctx), harvest.ID, fin); finErr != nil {
			log.Printf("ERROR Service: failed to finalize harvest %s after error: %v\n", harvest.ID, finErr)
		}
		return nil, err
	}

	if err := s.harvests.FinalizeHarvest(ctx, harvest.ID, fin); err != nil {
		return nil, err
	}

	applyFinalization(harvest, fin)
	result.Harvest = *harvest
	result.Report.SourceID = src.ID
	result.Report.Title = src.Title
	result.Report.HarvestID = harvest.ID
	result.Report.Status = string(fin.Status)
	result.Report.UpdateStatus = string(fin.UpdateStatus)
	result.Report.Error = fin.Error
	result.Report.AcceptedRows = len(result.Accepted)

	metrics.HarvestsTotal.WithLabelValues(string(fin.Status)).Inc()
	log.Printf("Service: harvest %s of source %s finished: status=%s update=%s\n",
		harvest.ID, src.ID, fin.Status, fin.UpdateStatus)
	return result, nil
}

// attempt runs the fallible middle of a harvest. It returns the
// finalization to record; a non-nil error means a collaborator (store)
// failure that must abort the run, not a bad file.
func (s *HarvestService) attempt(ctx context.Context, src *models.Source, harvest *models.Harvest, result *AttemptResult) (models.HarvestFinalization, error) {
	failed := func(cause error) models.HarvestFinalization {
		log.Printf("ERROR Service: harvest %s of source %s failed: %v\n", harvest.ID, src.ID, cause)
		return models.HarvestFinalization{
			Status:     models.HarvestStatusFailed,
			Error:      cause.Error(),
			FinishedAt: time.Now().UTC(),
		}
	}

	baseline, err := s.loadBaseline(ctx, src.ID)
	if err != nil {
		var recErr *ReconciliationError
		if errors.As(err, &recErr) {
			return failed(err), nil
		}
		return models.HarvestFinalization{}, err
	}

	org, err := s.organizations.GetOrganization(ctx, src.OrganizationID)
	if err != nil {
		return models.HarvestFinalization{}, err
	}
	if org == nil {
		return failed(fmt.Errorf("organization %s not found", src.OrganizationID)), nil
	}
	perimeters, err := s.organizations.GetPerimeters(ctx, org.ID)
	if err != nil {
		return models.HarvestFinalization{}, err
	}

	metrics.FetchesInFlight.Inc()
	data, err := s.fetcher.FetchBAL(ctx, src.URL)
	metrics.FetchesInFlight.Dec()
	if err != nil {
		return failed(err), nil
	}

	fileID := models.NewID()
	fileHash := scraper.FileHash(data)

	parse, err := scraper.ParseBAL(data)
	if err != nil {
		// The file is not BAL-shaped at all: the attempt fails and the
		// content is classified rejected in the same record.
		fin := failed(err)
		fin.UpdateStatus = models.UpdateStatusRejected
		fin.UpdateRejectionReason = err.Error()
		fin.FileID = fileID
		fin.FileHash = fileHash
		return fin, nil
	}

	// Per-commune fingerprints are recomputed even when fileHash matches
	// the previous harvest, so every run leaves a full audit trail.
	fingerprints := scraper.CommuneFingerprints(parse.Rows)
	dataHash := scraper.DataHash(fingerprints)

	outcome, err := s.reconciler.Reconcile(ReconcileInput{
		Source:       *src,
		HarvestID:    harvest.ID,
		FileID:       fileID,
		Parse:        parse,
		Fingerprints: fingerprints,
		Baseline:     baseline,
		Perimeters:   perimeters,
	})
	if err != nil {
		return failed(err), nil
	}

	for i := range outcome.Revisions {
		rev := &outcome.Revisions[i]
		if err := s.revisions.CreateRevision(ctx, rev); err != nil {
			return models.HarvestFinalization{}, err
		}
		metrics.RevisionsTotal.WithLabelValues(string(rev.UpdateStatus)).Inc()
	}
	metrics.RowsAcceptedTotal.Add(float64(len(outcome.Accepted)))
	metrics.RowsErroredTotal.Add(float64(parse.InvalidRowCount))

	result.Revisions = outcome.Revisions
	result.Accepted = outcome.Accepted
	result.Report.NbRows = parse.RowCount
	result.Report.NbRowsWithErrors = parse.InvalidRowCount
	result.Report.Communes = len(parse.Communes)
	result.Report.UniqueErrors = collectUniqueErrors(parse)

	return models.HarvestFinalization{
		Status:                models.HarvestStatusCompleted,
		UpdateStatus:          outcome.UpdateStatus,
		UpdateRejectionReason: outcome.RejectionReason,
		FileID:                fileID,
		FileHash:              fileHash,
		DataHash:              dataHash,
		FinishedAt:            time.Now().UTC(),
	}, nil
}

// loadBaseline builds the commune -> fingerprint map of the previous
// completed harvest. No prior completed harvest means an empty baseline:
// every commune is implicitly new.
func (s *HarvestService) loadBaseline(ctx context.Context, sourceID string) (map[string]string, error) {
	lastCompleted, err := s.harvests.GetLastCompletedHarvest(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	baseline := make(map[string]string)
	if lastCompleted == nil {
		return baseline, nil
	}

	revisions, err := s.revisions.GetRevisionsByHarvest(ctx, lastCompleted.ID)
	if err != nil {
		return nil, err
	}
	for _, rev := range revisions {
		if rev.CodeCommune == "" {
			return nil, &ReconciliationError{
				Reason: fmt.Sprintf("revision %s of harvest %s has no commune code", rev.ID, lastCompleted.ID),
			}
		}
		baseline[rev.CodeCommune] = rev.DataHash
	}
	return baseline, nil
}

func applyFinalization(h *models.Harvest, fin models.HarvestFinalization) {
	h.Status = fin.Status
	h.UpdateStatus = fin.UpdateStatus
	h.UpdateRejectionReason = fin.UpdateRejectionReason
	h.FileID = fin.FileID
	h.FileHash = fin.FileHash
	h.DataHash = fin.DataHash
	h.Error = fin.Error
	finishedAt := fin.FinishedAt
	h.FinishedAt = &finishedAt
}

func collectUniqueErrors(parse *models.ParseResult) []string {
	seen := make(map[string]struct{})
	for _, stats := range parse.Communes {
		for _, e := range stats.UniqueErrors {
			seen[e] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	list := make([]string, 0, len(seen))
	for e := range seen {
		list = append(list, e)
	}
	sort.Strings(list)
	return list
}
