// services/batch_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openadresse/moissonneur/metrics"
	"github.com/openadresse/moissonneur/models"
)

// SourceHarvester runs one source attempt to a terminal state.
type SourceHarvester interface {
	HarvestSource(ctx context.Context, sourceID string) (*AttemptResult, error)
}

// BatchService drives one batch run: select due sources, harvest them with
// bounded concurrency, isolate per-source failures, aggregate run metrics
// and fold completed attempts into the export sink.
type BatchService struct {
	sources   SourceStore
	harvester SourceHarvester
	registry  CommuneRegistry

	exportDir   string
	concurrency int
	freshness   time.Duration
}

func NewBatchService(
	sources SourceStore,
	harvester SourceHarvester,
	registry CommuneRegistry,
	exportDir string,
	concurrency int,
	freshness time.Duration,
) *BatchService {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BatchService{
		sources:     sources,
		harvester:   harvester,
		registry:    registry,
		exportDir:   exportDir,
		concurrency: concurrency,
		freshness:   freshness,
	}
}

// BatchReport aggregates one run. All counters are merged commutatively as
// attempts complete, in no particular order.
type BatchReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	ExportDir  string    `json:"exportDir"`

	SourcesSelected int `json:"sourcesSelected"`
	Harvested       int `json:"harvested"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`

	AcceptedRows      int   `json:"acceptedRows"`
	ErroredRows       int   `json:"erroredRows"`
	DistinctCommunes  int   `json:"distinctCommunes"`
	PopulationCovered int64 `json:"populationCovered"`

	Reports []models.SourceReport `json:"reports"`
}

// Run executes one batch. Per-source failures are recorded as failed
// harvests and never abort the batch; an error returned here means a
// collaborator failed outside an attempt's boundary and the run must stop
// (locks held by in-flight attempts are released by their own deferred
// unlocks before the group returns).
func (b *BatchService) Run(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{StartedAt: time.Now().UTC()}
	timer := time.Now()
	defer func() {
		report.FinishedAt = time.Now().UTC()
		metrics.BatchDuration.Observe(time.Since(timer).Seconds())
	}()

	srcs, err := b.sources.FindSourcesToHarvest(ctx, b.freshness)
	if err != nil {
		return report, err
	}
	report.SourcesSelected = len(srcs)
	if len(srcs) == 0 {
		log.Println("Service: no sources due for harvesting")
		return report, nil
	}
	log.Printf("Service: starting batch of %d source(s), concurrency %d\n", len(srcs), b.concurrency)

	runDir := filepath.Join(b.exportDir, report.StartedAt.Format("20060102-150405"))
	sink, err := OpenExportSink(runDir)
	if err != nil {
		return report, err
	}
	report.ExportDir = runDir

	var mu sync.Mutex
	communes := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, src := range srcs {
		sourceID := src.ID
		g.Go(func() error {
			res, err := b.harvester.HarvestSource(gctx, sourceID)
			if errors.Is(err, ErrSourceLocked) {
				log.Printf("Service: source %s already has a harvest in progress, skipping\n", sourceID)
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("harvesting source %s: %w", sourceID, err)
			}

			// Merge only after the attempt reached a terminal state.
			if res.Harvest.Status == models.HarvestStatusCompleted {
				if err := sink.AppendSource(res); err != nil {
					return err
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if res.Harvest.Status == models.HarvestStatusCompleted {
				report.Harvested++
			} else {
				report.Failed++
			}
			report.AcceptedRows += len(res.Accepted)
			report.ErroredRows += res.Report.NbRowsWithErrors
			report.Reports = append(report.Reports, res.Report)
			for _, rev := range res.Revisions {
				if _, seen := communes[rev.CodeCommune]; seen {
					continue
				}
				communes[rev.CodeCommune] = struct{}{}
				if c, ok := b.registry.Lookup(rev.CodeCommune); ok {
					report.PopulationCovered += c.Population
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	report.DistinctCommunes = len(communes)

	if err := sink.Close(); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			log.Printf("ERROR Service: failed to close export sink: %v\n", err)
		}
	}

	if runErr != nil {
		return report, runErr
	}

	log.Printf("Service: batch finished: %d harvested, %d failed, %d skipped, %d rows accepted, %d communes, population %d\n",
		report.Harvested, report.Failed, report.Skipped,
		report.AcceptedRows, report.DistinctCommunes, report.PopulationCovered)
	return report, nil
}
