// services/export_service.go
package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/openadresse/moissonneur/models"
)

// ExportSink accumulates the accepted output of one batch run. It is opened
// before the run, appended to as attempts complete (each source merged only
// once its attempt is fully terminal), and flushed on Close. Appends from
// concurrent attempts serialize on the sink's mutex so previously written
// rows are never corrupted.
type ExportSink struct {
	mu sync.Mutex

	dir       string
	csvFile   *os.File
	csvWriter *csv.Writer
	encoder   *csvutil.Encoder

	communes map[string][]models.ExportAddress
	reports  map[string]models.SourceReport
	manifest []ManifestEntry
}

// ManifestEntry records one source processed during the run.
type ManifestEntry struct {
	SourceID     string     `json:"sourceId"`
	Title        string     `json:"title"`
	HarvestID    string     `json:"harvestId"`
	Status       string     `json:"status"`
	UpdateStatus string     `json:"updateStatus,omitempty"`
	AcceptedRows int        `json:"acceptedRows"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// OpenExportSink creates the run directory and the flat export file.
func OpenExportSink(dir string) (*ExportSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	csvPath := filepath.Join(dir, "adresses.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file %s: %w", csvPath, err)
	}

	w := csv.NewWriter(f)
	w.Comma = ';'

	return &ExportSink{
		dir:       dir,
		csvFile:   f,
		csvWriter: w,
		encoder:   csvutil.NewEncoder(w),
		communes:  make(map[string][]models.ExportAddress),
		reports:   make(map[string]models.SourceReport),
	}, nil
}

// AppendSource folds one completed attempt's accepted rows into the run
// output, tagging every row with the source's license.
func (s *ExportSink) AppendSource(res *AttemptResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range res.Accepted {
		addr := models.ExportAddress{
			CleInterop:  row.CleInterop,
			CodeCommune: row.CodeCommune,
			CommuneNom:  row.CommuneNom,
			VoieNom:     row.VoieNom,
			Numero:      row.Numero,
			Suffixe:     row.Suffixe,
			Position:    row.Position,
			Long:        row.Long,
			Lat:         row.Lat,
			DateDerMaj:  row.DateDerMaj,
			SourceID:    res.Source.ID,
			License:     res.Source.License,
		}
		if err := s.encoder.Encode(addr); err != nil {
			return fmt.Errorf("failed to encode export row for source %s: %w", res.Source.ID, err)
		}
		s.communes[row.CodeCommune] = append(s.communes[row.CodeCommune], addr)
	}

	s.reports[res.Source.ID] = res.Report
	s.manifest = append(s.manifest, ManifestEntry{
		SourceID:     res.Source.ID,
		Title:        res.Source.Title,
		HarvestID:    res.Harvest.ID,
		Status:       string(res.Harvest.Status),
		UpdateStatus: string(res.Harvest.UpdateStatus),
		AcceptedRows: len(res.Accepted),
		FinishedAt:   res.Harvest.FinishedAt,
	})
	return nil
}

// AcceptedRowTotal returns the number of rows written so far, summed over
// per-source outputs.
func (s *ExportSink) AcceptedRowTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.manifest {
		total += m.AcceptedRows
	}
	return total
}

// Close flushes the flat export and writes the hierarchical export, the
// per-source report and the run manifest.
func (s *ExportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		s.csvFile.Close()
		return fmt.Errorf("failed to flush flat export: %w", err)
	}
	if err := s.csvFile.Close(); err != nil {
		return fmt.Errorf("failed to close flat export: %w", err)
	}

	if err := s.writeJSON("communes.json", s.communes); err != nil {
		return err
	}
	if err := s.writeJSON("report.json", s.reports); err != nil {
		return err
	}
	return s.writeJSON("manifest.json", s.manifest)
}

func (s *ExportSink) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
