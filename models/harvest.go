// models/harvest.go
package models

import "time"

// HarvestStatus is the lifecycle state of one harvesting attempt.
// A harvest is created 'active' and transitions exactly once to 'completed'
// or 'failed'; terminal states are never revisited.
type HarvestStatus string

const (
	HarvestStatusActive    HarvestStatus = "active"
	HarvestStatusCompleted HarvestStatus = "completed"
	HarvestStatusFailed    HarvestStatus = "failed"
)

// UpdateStatus classifies what changed, for a whole harvest or for a single
// commune within it.
type UpdateStatus string

const (
	UpdateStatusRejected  UpdateStatus = "rejected"
	UpdateStatusUpdated   UpdateStatus = "updated"
	UpdateStatusUnchanged UpdateStatus = "unchanged"
)

// Harvest is the immutable record of one harvesting attempt of a source.
type Harvest struct {
	ID                    string        `db:"id" json:"id"`
	SourceID              string        `db:"source_id" json:"sourceId"`
	FileID                string        `db:"file_id" json:"fileId,omitempty"`
	FileHash              string        `db:"file_hash" json:"fileHash,omitempty"`
	DataHash              string        `db:"data_hash" json:"dataHash,omitempty"`
	Status                HarvestStatus `db:"status" json:"status"`
	UpdateStatus          UpdateStatus  `db:"update_status" json:"updateStatus,omitempty"`
	UpdateRejectionReason string        `db:"update_rejection_reason" json:"updateRejectionReason,omitempty"`
	Error                 string        `db:"error" json:"error,omitempty"`
	StartedAt             time.Time     `db:"started_at" json:"startedAt"`
	FinishedAt            *time.Time    `db:"finished_at" json:"finishedAt,omitempty"`
}

// HarvestFinalization carries the single allowed transition out of 'active'.
type HarvestFinalization struct {
	Status                HarvestStatus
	UpdateStatus          UpdateStatus
	UpdateRejectionReason string
	FileID                string
	FileHash              string
	DataHash              string
	Error                 string
	FinishedAt            time.Time
}
