// models/revision.go
package models

import "time"

// PublicationStatus values mirror the states an external publisher writes
// back into a revision's publication block. This service only initializes
// the block; it never advances it.
type PublicationStatus string

const (
	PublicationPublished             PublicationStatus = "published"
	PublicationError                 PublicationStatus = "error"
	PublicationNotConfigured         PublicationStatus = "not-configured"
	PublicationProvidedByOtherClient PublicationStatus = "provided-by-other-client"
	PublicationProvidedByOtherSource PublicationStatus = "provided-by-other-source"
)

// Publication is the publisher-owned block of a revision, stored as JSON.
type Publication struct {
	Status              PublicationStatus `json:"status,omitempty"`
	CurrentClientID     string            `json:"currentClientId,omitempty"`
	CurrentSourceID     string            `json:"currentSourceId,omitempty"`
	PublishedRevisionID string            `json:"publishedRevisionId,omitempty"`
	ErrorMessage        string            `json:"errorMessage,omitempty"`
}

// Validation holds the row-level stats gathered while parsing one commune's
// subset of a BAL file.
type Validation struct {
	NbRows           int      `json:"nbRows"`
	NbRowsWithErrors int      `json:"nbRowsWithErrors"`
	UniqueErrors     []string `json:"uniqueErrors,omitempty"`
}

// Revision is the append-only outcome for one commune within one harvest.
// Exactly one revision is written per (harvest, commune) pair encountered in
// the parsed file; after creation only the publication block may change, and
// only by the external publisher.
type Revision struct {
	ID                    string       `db:"id" json:"id"`
	SourceID              string       `db:"source_id" json:"sourceId"`
	HarvestID             string       `db:"harvest_id" json:"harvestId"`
	FileID                string       `db:"file_id" json:"fileId,omitempty"`
	DataHash              string       `db:"data_hash" json:"dataHash,omitempty"`
	CodeCommune           string       `db:"code_commune" json:"codeCommune"`
	UpdateStatus          UpdateStatus `db:"update_status" json:"updateStatus"`
	UpdateRejectionReason string       `db:"update_rejection_reason" json:"updateRejectionReason,omitempty"`
	Publication           *Publication `db:"publication" json:"publication,omitempty"`
	Validation            *Validation  `db:"validation" json:"validation,omitempty"`
	CreatedAt             time.Time    `db:"created_at" json:"createdAt"`
}
