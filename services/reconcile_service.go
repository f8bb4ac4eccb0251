// services/reconcile_service.go
package services

import (
	"fmt"
	"sort"

	"github.com/openadresse/moissonneur/models"
)

// Reconciler classifies each commune of a fresh parse against the
// fingerprints recorded by the previous completed harvest.
type Reconciler struct {
	maxRowErrors int
	registry     CommuneRegistry
}

func NewReconciler(maxRowErrors int, registry CommuneRegistry) *Reconciler {
	return &Reconciler{maxRowErrors: maxRowErrors, registry: registry}
}

// ReconcileInput bundles everything one classification pass needs.
// Baseline maps commune code to the fingerprint recorded in the previous
// completed harvest's revisions; it is empty for a first harvest.
type ReconcileInput struct {
	Source       models.Source
	HarvestID    string
	FileID       string
	Parse        *models.ParseResult
	Fingerprints map[string]string
	Baseline     map[string]string
	Perimeters   []models.Perimeter
}

// ReconcileOutcome is one revision per commune encountered in the parse,
// the rows accepted for export, and the aggregate classification.
type ReconcileOutcome struct {
	Revisions       []models.Revision
	Accepted        []models.BALRow
	UpdateStatus    models.UpdateStatus
	RejectionReason string
}

// Reconcile applies the classification rules commune by commune:
// over-threshold row errors or an out-of-perimeter commune reject it; a
// missing or differing baseline fingerprint means updated; an identical one
// means unchanged. Communes absent from the new parse are not revised.
// Unchanged communes still get a revision, so the audit trail stays complete
// even when nothing moved.
func (r *Reconciler) Reconcile(in ReconcileInput) (*ReconcileOutcome, error) {
	if in.Parse == nil {
		return nil, &ReconciliationError{Reason: "no parse result"}
	}

	codes := make([]string, 0, len(in.Parse.Communes))
	for code := range in.Parse.Communes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	outcome := &ReconcileOutcome{}
	rejected := make(map[string]bool)
	allUnchanged := len(codes) > 0
	allRejected := len(codes) > 0

	for _, code := range codes {
		stats := in.Parse.Communes[code]
		fingerprint := in.Fingerprints[code]

		status, reason := r.classifyCommune(code, stats, fingerprint, in)
		if status != models.UpdateStatusUnchanged {
			allUnchanged = false
		}
		if status == models.UpdateStatusRejected {
			rejected[code] = true
		} else {
			allRejected = false
		}
		if status != models.UpdateStatusRejected && fingerprint == "" {
			return nil, &ReconciliationError{Reason: "missing fingerprint for commune " + code}
		}

		outcome.Revisions = append(outcome.Revisions, models.Revision{
			SourceID:              in.Source.ID,
			HarvestID:             in.HarvestID,
			FileID:                in.FileID,
			DataHash:              fingerprint,
			CodeCommune:           code,
			UpdateStatus:          status,
			UpdateRejectionReason: reason,
			Validation: &models.Validation{
				NbRows:           stats.NbRows,
				NbRowsWithErrors: stats.NbRowsWithErrors,
				UniqueErrors:     stats.UniqueErrors,
			},
		})
	}

	for _, row := range in.Parse.Rows {
		if !rejected[row.CodeCommune] {
			outcome.Accepted = append(outcome.Accepted, row)
		}
	}

	switch {
	case len(codes) == 0:
		outcome.UpdateStatus = models.UpdateStatusRejected
		outcome.RejectionReason = "no parsable addresses found"
	case allRejected:
		outcome.UpdateStatus = models.UpdateStatusRejected
		outcome.RejectionReason = "all communes rejected"
	case allUnchanged:
		outcome.UpdateStatus = models.UpdateStatusUnchanged
	default:
		outcome.UpdateStatus = models.UpdateStatusUpdated
	}

	return outcome, nil
}

func (r *Reconciler) classifyCommune(code string, stats *models.CommuneStats, fingerprint string, in ReconcileInput) (models.UpdateStatus, string) {
	if stats.NbRows == stats.NbRowsWithErrors {
		return models.UpdateStatusRejected, "no valid rows for commune"
	}
	if stats.NbRowsWithErrors > r.maxRowErrors {
		return models.UpdateStatusRejected,
			fmt.Sprintf("too many rows with errors (%d, max %d)", stats.NbRowsWithErrors, r.maxRowErrors)
	}
	if len(in.Perimeters) > 0 && !r.registry.InPerimeter(code, in.Perimeters) {
		return models.UpdateStatusRejected, "commune outside organization perimeter"
	}

	previous, known := in.Baseline[code]
	if !known {
		return models.UpdateStatusUpdated, ""
	}
	if previous == fingerprint {
		return models.UpdateStatusUnchanged, ""
	}
	return models.UpdateStatusUpdated, ""
}
